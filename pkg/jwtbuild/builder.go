// Package jwtbuild builds JWT claim sets and turns them into signed (JWS),
// encrypted (JWE) or nested tokens.
//
// Setters never fail on the spot. The first error is kept and returned by the
// terminal operation (JSON, SignWith, Sign, EncryptWith, Encrypt), or by Err.
package jwtbuild

import (
	"context"
	"fmt"
	"time"

	"github.com/boogy/jwt-forge/pkg/claims"
	"github.com/google/uuid"
)

// Registered and MicroProfile claim names set by the builder.
const (
	ClaimIssuer            = "iss"
	ClaimSubject           = "sub"
	ClaimAudience          = "aud"
	ClaimExpiresAt         = "exp"
	ClaimIssuedAt          = "iat"
	ClaimTokenID           = "jti"
	ClaimUPN               = "upn"
	ClaimPreferredUserName = "preferred_username"
	ClaimGroups            = "groups"
)

// Builder accumulates claims. It is not safe for concurrent use.
type Builder struct {
	settings Settings
	claims   *claims.Map
	err      error
}

// New starts with an empty claim set.
func New(opts ...Option) *Builder {
	return &Builder{
		settings: newSettings(opts),
		claims:   claims.NewMap(8),
	}
}

// FromMap starts with the members of m, in sorted key order.
func FromMap(m map[string]any, opts ...Option) *Builder {
	b := New(opts...)
	if m == nil {
		return b
	}
	v, err := b.settings.Normalizer.Normalize(m)
	if err != nil {
		b.err = err
		return b
	}
	b.claims = v.(*claims.Map)
	return b
}

// FromClaims starts with a copy of m.
func FromClaims(m *claims.Map, opts ...Option) *Builder {
	b := New(opts...)
	if m != nil {
		b.claims = m.Clone()
	}
	return b
}

// FromDocument starts with the claims of a JSON or YAML document.
func FromDocument(name string, data []byte, opts ...Option) *Builder {
	b := New(opts...)
	m, err := b.settings.Normalizer.ParseDocument(name, data)
	if err != nil {
		b.err = fmt.Errorf("unable to parse claims document %s: %w", name, err)
		return b
	}
	b.claims = m
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Claim sets a claim, normalizing value first.
func (b *Builder) Claim(name string, value any) *Builder {
	if name == "" {
		return b.fail(ErrEmptyClaimName)
	}
	if value == nil {
		return b.fail(fmt.Errorf("%w: %s", ErrNilClaimValue, name))
	}
	v, err := b.settings.Normalizer.NormalizeClaim(name, value)
	if err != nil {
		return b.fail(err)
	}
	b.claims.Set(name, v)
	return b
}

// Remove deletes a claim if present.
func (b *Builder) Remove(name string) *Builder {
	b.claims.Delete(name)
	return b
}

func (b *Builder) Issuer(issuer string) *Builder {
	b.claims.Set(ClaimIssuer, claims.String(issuer))
	return b
}

func (b *Builder) Subject(subject string) *Builder {
	b.claims.Set(ClaimSubject, claims.String(subject))
	return b
}

func (b *Builder) Upn(upn string) *Builder {
	b.claims.Set(ClaimUPN, claims.String(upn))
	return b
}

func (b *Builder) PreferredUserName(name string) *Builder {
	b.claims.Set(ClaimPreferredUserName, claims.String(name))
	return b
}

// Audience sets "aud": a string for one audience, a list otherwise.
func (b *Builder) Audience(audiences ...string) *Builder {
	b.claims.Set(ClaimAudience, audienceValue(audiences))
	return b
}

func audienceValue(audiences []string) claims.Value {
	if len(audiences) == 1 {
		return claims.String(audiences[0])
	}
	return stringList(audiences)
}

// Groups sets "groups", always as a list.
func (b *Builder) Groups(groups ...string) *Builder {
	b.claims.Set(ClaimGroups, stringList(groups))
	return b
}

func stringList(items []string) claims.List {
	out := make(claims.List, len(items))
	for i, s := range items {
		out[i] = claims.String(s)
	}
	return out
}

// IssuedAt sets "iat" in seconds since the epoch.
func (b *Builder) IssuedAt(sec int64) *Builder {
	b.claims.Set(ClaimIssuedAt, claims.Integer(sec))
	return b
}

// ExpiresAt sets "exp" in seconds since the epoch.
func (b *Builder) ExpiresAt(sec int64) *Builder {
	b.claims.Set(ClaimExpiresAt, claims.Integer(sec))
	return b
}

// Err returns the first error recorded by a setter.
func (b *Builder) Err() error {
	return b.err
}

// Claims returns a copy of the current claims, without defaults.
func (b *Builder) Claims() *claims.Map {
	return b.claims.Clone()
}

// Final returns a copy of the claims with the defaults applied.
func (b *Builder) Final() (*claims.Map, error) {
	if b.err != nil {
		return nil, b.err
	}

	m := b.claims.Clone()
	now := b.settings.Now()

	if !present(m, ClaimIssuedAt) {
		m.Set(ClaimIssuedAt, claims.Integer(now.Unix()))
	}
	if !present(m, ClaimExpiresAt) {
		m.Set(ClaimExpiresAt, claims.Integer(issuedAt(m, now)+int64(b.settings.Lifespan/time.Second)))
	}
	if b.settings.AddJTI && !present(m, ClaimTokenID) {
		m.Set(ClaimTokenID, claims.String(uuid.NewString()))
	}
	if b.settings.Issuer != "" && !present(m, ClaimIssuer) {
		m.Set(ClaimIssuer, claims.String(b.settings.Issuer))
	}
	if len(b.settings.Audiences) > 0 && !present(m, ClaimAudience) {
		m.Set(ClaimAudience, audienceValue(b.settings.Audiences))
	}

	return m, nil
}

func present(m *claims.Map, name string) bool {
	v, ok := m.Get(name)
	if !ok {
		return false
	}
	_, null := v.(claims.Null)
	return !null
}

func issuedAt(m *claims.Map, now time.Time) int64 {
	v, _ := m.Get(ClaimIssuedAt)
	switch iat := v.(type) {
	case claims.Integer:
		return int64(iat)
	case claims.Float:
		return int64(iat)
	}
	return now.Unix()
}

// JSON applies the defaults and serializes the claims.
func (b *Builder) JSON() (string, error) {
	m, err := b.Final()
	if err != nil {
		return "", err
	}
	return claims.Serialize(m), nil
}

// JWS continues with signature options.
func (b *Builder) JWS() *SignatureBuilder {
	return newSignatureBuilder(b)
}

// JWE continues with encryption options; the payload is the claims JSON.
func (b *Builder) JWE() *EncryptionBuilder {
	return newEncryptionBuilder(b.settings, "", func() ([]byte, error) {
		s, err := b.JSON()
		return []byte(s), err
	})
}

// SignWith signs the claims with key using the configured defaults.
func (b *Builder) SignWith(key any) (string, error) {
	return b.JWS().SignWith(key)
}

// Sign signs with the configured signing key.
func (b *Builder) Sign(ctx context.Context) (string, error) {
	return b.JWS().Sign(ctx)
}

// EncryptWith encrypts the claims for key using the configured defaults.
func (b *Builder) EncryptWith(key any) (string, error) {
	return b.JWE().EncryptWith(key)
}

// Encrypt encrypts with the configured encryption key.
func (b *Builder) Encrypt(ctx context.Context) (string, error) {
	return b.JWE().Encrypt(ctx)
}
