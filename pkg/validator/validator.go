package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/boogy/jwt-forge/pkg/claims"
	"github.com/boogy/jwt-forge/pkg/config"
	"github.com/boogy/jwt-forge/pkg/types"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoVerifyKey      = errors.New("verify_key_location is not configured")
	ErrAudienceMismatch = errors.New("token audience does not match")
	ErrInvalidToken     = errors.New("token is invalid")
)

// KeyResolver returns the key a signature is checked with. keys.Locator implements it.
type KeyResolver interface {
	VerificationKey(ctx context.Context, location, kid string) (*jose.JSONWebKey, error)
}

type TokenValidatorInterface interface {
	Validate(ctx context.Context, token string) (*claims.Map, error)
	ParseToken(ctx context.Context, token string) (*claims.Map, error)
	GenKeyFunc(ctx context.Context) jwt.Keyfunc
}

type TokenValidator struct {
	ExpectedIssuer    string
	ExpectedAudiences []string
	KeyLocation       string
	Keys              KeyResolver
	Cfg               *config.Config
}

func NewTokenValidator(cfg *config.Config, keys KeyResolver) *TokenValidator {
	return &TokenValidator{
		ExpectedIssuer:    cfg.Issuer,
		ExpectedAudiences: cfg.Audiences,
		KeyLocation:       cfg.VerifyKeyLocation,
		Keys:              keys,
		Cfg:               cfg,
	}
}

// Validate verifies the signature and registered claims of a compact JWS and
// returns its claims in payload order. Any configured audience is accepted.
func (t *TokenValidator) Validate(ctx context.Context, token string) (*claims.Map, error) {
	m, err := t.ParseToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if len(t.ExpectedAudiences) > 0 {
		aud, err := types.TokenClaims{Map: m}.GetAudience()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		if !slices.ContainsFunc(aud, func(a string) bool { return slices.Contains(t.ExpectedAudiences, a) }) {
			return nil, fmt.Errorf("%w: expected one of %v", ErrAudienceMismatch, t.ExpectedAudiences)
		}
	}

	return m, nil
}

func (t *TokenValidator) ParseToken(ctx context.Context, tokenString string) (*claims.Map, error) {
	if t.KeyLocation == "" || t.Keys == nil {
		return nil, ErrNoVerifyKey
	}

	opts := []jwt.ParserOption{
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods(config.SignatureAlgorithms),
	}
	if t.ExpectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(t.ExpectedIssuer))
	}
	parser := jwt.NewParser(opts...)

	var tc types.TokenClaims
	token, err := parser.ParseWithClaims(tokenString, &tc, t.GenKeyFunc(ctx))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return tc.Map, nil
}

// GenKeyFunc resolves the verification key by the token "kid". Without a kid the
// key location must hold a single candidate key.
func (t *TokenValidator) GenKeyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)

		key, err := t.Keys.VerificationKey(ctx, t.KeyLocation, kid)
		if err != nil {
			slog.Error("Failed to resolve verification key", slog.String("kid", kid), slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to resolve verification key: %w", err)
		}

		if key.Algorithm != "" && key.Algorithm != token.Method.Alg() {
			return nil, fmt.Errorf("key %q is bound to %s, token uses %s", key.KeyID, key.Algorithm, token.Method.Alg())
		}
		return key.Key, nil
	}
}
