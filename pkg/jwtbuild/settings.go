package jwtbuild

import (
	"context"
	"time"

	"github.com/boogy/jwt-forge/pkg/claims"
	"github.com/boogy/jwt-forge/pkg/config"
	"github.com/go-jose/go-jose/v4"
)

// KeySource resolves configured key locations. keys.Locator implements it.
type KeySource interface {
	SigningKey(ctx context.Context, location, kid string) (*jose.JSONWebKey, error)
	EncryptionKey(ctx context.Context, location, kid string) (*jose.JSONWebKey, error)
}

// Settings are the defaults a Builder falls back to.
type Settings struct {
	Issuer    string
	Audiences []string
	Lifespan  time.Duration
	AddJTI    bool

	SignatureAlgorithm         string
	KeyEncryptionAlgorithm     string
	ContentEncryptionAlgorithm string

	SignKeyLocation    string
	SignKeyID          string
	EncryptKeyLocation string
	EncryptKeyID       string

	Keys       KeySource
	Normalizer *claims.Normalizer
	Now        func() time.Time
}

// DefaultSettings matches the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Lifespan:                   5 * time.Minute,
		AddJTI:                     true,
		SignatureAlgorithm:         "RS256",
		KeyEncryptionAlgorithm:     "RSA-OAEP-256",
		ContentEncryptionAlgorithm: "A256GCM",
		Normalizer:                 claims.NewNormalizer(),
		Now:                        time.Now,
	}
}

// SettingsFromConfig maps the service configuration onto builder settings.
func SettingsFromConfig(cfg *config.Config, keys KeySource) Settings {
	s := DefaultSettings()
	s.Issuer = cfg.Issuer
	s.Audiences = cfg.Audiences
	if cfg.Lifespan > 0 {
		s.Lifespan = cfg.Lifespan
	}
	s.AddJTI = cfg.AddJTI
	if cfg.SignatureAlgorithm != "" {
		s.SignatureAlgorithm = cfg.SignatureAlgorithm
	}
	if cfg.KeyEncryptionAlgorithm != "" {
		s.KeyEncryptionAlgorithm = cfg.KeyEncryptionAlgorithm
	}
	if cfg.ContentEncryptionAlgorithm != "" {
		s.ContentEncryptionAlgorithm = cfg.ContentEncryptionAlgorithm
	}
	s.SignKeyLocation = cfg.SignKeyLocation
	s.SignKeyID = cfg.SignKeyID
	s.EncryptKeyLocation = cfg.EncryptKeyLocation
	s.EncryptKeyID = cfg.EncryptKeyID
	s.Keys = keys
	s.Normalizer = claims.NewNormalizer(claims.WithMaxDepth(cfg.MaxDepth))
	return s
}

type Option func(*Settings)

// WithSettings replaces every setting at once.
func WithSettings(s Settings) Option {
	return func(dst *Settings) { *dst = s }
}

func WithIssuer(issuer string) Option {
	return func(s *Settings) { s.Issuer = issuer }
}

func WithAudiences(audiences ...string) Option {
	return func(s *Settings) { s.Audiences = audiences }
}

func WithLifespan(d time.Duration) Option {
	return func(s *Settings) { s.Lifespan = d }
}

// WithJTI toggles the generated "jti" claim.
func WithJTI(add bool) Option {
	return func(s *Settings) { s.AddJTI = add }
}

func WithKeySource(keys KeySource) Option {
	return func(s *Settings) { s.Keys = keys }
}

func WithClock(now func() time.Time) Option {
	return func(s *Settings) { s.Now = now }
}

func WithMaxDepth(depth int) Option {
	return func(s *Settings) { s.Normalizer = claims.NewNormalizer(claims.WithMaxDepth(depth)) }
}

func newSettings(opts []Option) Settings {
	s := DefaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	if s.Normalizer == nil {
		s.Normalizer = claims.NewNormalizer()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}
