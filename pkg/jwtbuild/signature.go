package jwtbuild

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/boogy/jwt-forge/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// Header names handled by the builders.
const (
	HeaderAlgorithm      = "alg"
	HeaderKeyID          = "kid"
	HeaderType           = "typ"
	HeaderContentType    = "cty"
	HeaderEncryption     = "enc"
	HeaderThumbprint     = "x5t"
	HeaderThumbprintS256 = "x5t#S256"
	nestedJWTContentType = "JWT"
	defaultTokenType     = "JWT"
)

// SignatureBuilder collects JWS header parameters.
type SignatureBuilder struct {
	claims    *Builder
	algorithm string
	headers   map[string]any
	err       error
}

func newSignatureBuilder(b *Builder) *SignatureBuilder {
	return &SignatureBuilder{
		claims:  b,
		headers: make(map[string]any),
	}
}

func (s *SignatureBuilder) fail(err error) *SignatureBuilder {
	if s.err == nil {
		s.err = err
	}
	return s
}

// Header sets a protected header. "alg" is routed to Algorithm.
func (s *SignatureBuilder) Header(name string, value any) *SignatureBuilder {
	if name == HeaderAlgorithm {
		alg, ok := value.(string)
		if !ok {
			return s.fail(fmt.Errorf("%w: alg must be a string, got %T", ErrUnsupportedAlgorithm, value))
		}
		return s.Algorithm(alg)
	}
	s.headers[name] = value
	return s
}

// Algorithm sets the JWS algorithm, e.g. "RS256" or "EdDSA".
func (s *SignatureBuilder) Algorithm(alg string) *SignatureBuilder {
	if !isSignatureAlgorithm(alg) {
		return s.fail(fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg))
	}
	s.algorithm = alg
	return s
}

func (s *SignatureBuilder) KeyID(kid string) *SignatureBuilder {
	s.headers[HeaderKeyID] = kid
	return s
}

// Thumbprint sets "x5t", the base64url SHA-1 digest of the DER certificate.
func (s *SignatureBuilder) Thumbprint(cert *x509.Certificate) *SignatureBuilder {
	if cert == nil {
		return s.fail(fmt.Errorf("%w: certificate", ErrMissingKey))
	}
	sum := sha1.Sum(cert.Raw)
	s.headers[HeaderThumbprint] = base64.RawURLEncoding.EncodeToString(sum[:])
	return s
}

// ThumbprintS256 sets "x5t#S256", the base64url SHA-256 digest of the DER certificate.
func (s *SignatureBuilder) ThumbprintS256(cert *x509.Certificate) *SignatureBuilder {
	if cert == nil {
		return s.fail(fmt.Errorf("%w: certificate", ErrMissingKey))
	}
	sum := sha256.Sum256(cert.Raw)
	s.headers[HeaderThumbprintS256] = base64.RawURLEncoding.EncodeToString(sum[:])
	return s
}

// SignWith returns the compact JWS of the claims signed with key. key is a raw
// private key, an HMAC secret or a JWK.
func (s *SignatureBuilder) SignWith(key any) (string, error) {
	return s.sign(key)
}

// Sign resolves the configured signing key and signs with it.
func (s *SignatureBuilder) Sign(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	key, err := s.configuredKey(ctx)
	if err != nil {
		return "", err
	}
	return s.sign(key)
}

// InnerSignWith signs with key and continues with the encryption of the signed
// token, producing a nested JWT.
func (s *SignatureBuilder) InnerSignWith(key any) *EncryptionBuilder {
	return s.nested(func() (any, error) { return key, nil })
}

// InnerSign is InnerSignWith with the configured signing key.
func (s *SignatureBuilder) InnerSign(ctx context.Context) *EncryptionBuilder {
	return s.nested(func() (any, error) { return s.configuredKey(ctx) })
}

func (s *SignatureBuilder) nested(key func() (any, error)) *EncryptionBuilder {
	return newEncryptionBuilder(s.claims.settings, nestedJWTContentType, func() ([]byte, error) {
		if s.err != nil {
			return nil, s.err
		}
		k, err := key()
		if err != nil {
			return nil, err
		}
		token, err := s.sign(k)
		return []byte(token), err
	})
}

func (s *SignatureBuilder) configuredKey(ctx context.Context) (any, error) {
	settings := s.claims.settings
	if settings.Keys == nil || settings.SignKeyLocation == "" {
		return nil, fmt.Errorf("%w: no signing key location configured", ErrMissingKey)
	}

	kid := settings.SignKeyID
	if h, ok := s.headers[HeaderKeyID].(string); ok && h != "" {
		kid = h
	}

	key, err := settings.Keys.SigningKey(ctx, settings.SignKeyLocation, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingKey, err)
	}
	return key, nil
}

func (s *SignatureBuilder) sign(key any) (string, error) {
	if s.err != nil {
		return "", s.err
	}

	raw, kid, keyAlg := unwrapKey(key)
	if raw == nil {
		return "", ErrMissingKey
	}

	alg, err := signatureAlgorithm(s.algorithm, keyAlg, s.claims.settings.SignatureAlgorithm, raw)
	if err != nil {
		return "", err
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}

	m, err := s.claims.Final()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(method, types.TokenClaims{Map: m})
	for name, value := range s.headers {
		token.Header[name] = value
	}
	if _, ok := token.Header[HeaderKeyID]; !ok && kid != "" {
		token.Header[HeaderKeyID] = kid
	}
	if _, ok := token.Header[HeaderType]; !ok {
		token.Header[HeaderType] = defaultTokenType
	}

	signed, err := token.SignedString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	return signed, nil
}
