package jwtbuild

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// EncryptionBuilder collects JWE header parameters. The payload is either the
// claims JSON or, for nested tokens, the inner JWS.
type EncryptionBuilder struct {
	settings    Settings
	payload     func() ([]byte, error)
	contentType string
	keyAlg      string
	contentAlg  string
	keyID       string
	headers     map[jose.HeaderKey]any
	err         error
}

func newEncryptionBuilder(settings Settings, contentType string, payload func() ([]byte, error)) *EncryptionBuilder {
	return &EncryptionBuilder{
		settings:    settings,
		payload:     payload,
		contentType: contentType,
		headers:     make(map[jose.HeaderKey]any),
	}
}

func (e *EncryptionBuilder) fail(err error) *EncryptionBuilder {
	if e.err == nil {
		e.err = err
	}
	return e
}

// Header sets a protected header. "alg", "enc", "kid" and "cty" are routed to
// their dedicated setters.
func (e *EncryptionBuilder) Header(name string, value any) *EncryptionBuilder {
	switch name {
	case HeaderAlgorithm, HeaderEncryption, HeaderKeyID, HeaderContentType:
		s, ok := value.(string)
		if !ok {
			return e.fail(fmt.Errorf("%w: %s must be a string, got %T", ErrUnsupportedAlgorithm, name, value))
		}
		switch name {
		case HeaderAlgorithm:
			return e.KeyAlgorithm(s)
		case HeaderEncryption:
			return e.ContentAlgorithm(s)
		case HeaderKeyID:
			return e.KeyID(s)
		default:
			e.contentType = s
			return e
		}
	}
	e.headers[jose.HeaderKey(name)] = value
	return e
}

// KeyAlgorithm sets the key management algorithm, e.g. "RSA-OAEP-256".
func (e *EncryptionBuilder) KeyAlgorithm(alg string) *EncryptionBuilder {
	if !isKeyAlgorithm(alg) {
		return e.fail(fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg))
	}
	e.keyAlg = alg
	return e
}

// ContentAlgorithm sets the content encryption algorithm, e.g. "A256GCM".
func (e *EncryptionBuilder) ContentAlgorithm(enc string) *EncryptionBuilder {
	if !isContentAlgorithm(enc) {
		return e.fail(fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, enc))
	}
	e.contentAlg = enc
	return e
}

func (e *EncryptionBuilder) KeyID(kid string) *EncryptionBuilder {
	e.keyID = kid
	return e
}

// EncryptWith returns the compact JWE of the payload encrypted for key. Private
// keys are reduced to their public half.
func (e *EncryptionBuilder) EncryptWith(key any) (string, error) {
	if e.err != nil {
		return "", e.err
	}

	raw, kid, keyAlg := unwrapKey(key)
	if raw == nil {
		return "", ErrMissingKey
	}
	raw = encryptionKey(raw)

	alg, err := keyAlgorithm(e.keyAlg, keyAlg, e.settings.KeyEncryptionAlgorithm, raw)
	if err != nil {
		return "", err
	}

	enc := e.contentAlg
	if enc == "" {
		enc = e.settings.ContentEncryptionAlgorithm
	}
	if !isContentAlgorithm(enc) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, enc)
	}

	if e.keyID != "" {
		kid = e.keyID
	}

	plaintext, err := e.payload()
	if err != nil {
		return "", err
	}

	opts := &jose.EncrypterOptions{ExtraHeaders: make(map[jose.HeaderKey]any, len(e.headers)+2)}
	for k, v := range e.headers {
		opts.ExtraHeaders[k] = v
	}
	if _, ok := opts.ExtraHeaders[jose.HeaderType]; !ok {
		opts.ExtraHeaders[jose.HeaderType] = defaultTokenType
	}
	if e.contentType != "" {
		opts.ExtraHeaders[jose.HeaderContentType] = e.contentType
	}

	encrypter, err := jose.NewEncrypter(
		jose.ContentEncryption(enc),
		jose.Recipient{
			Algorithm: jose.KeyAlgorithm(alg),
			Key:       raw,
			KeyID:     kid,
		},
		opts,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	object, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	compact, err := object.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	return compact, nil
}

// Encrypt resolves the configured encryption key and encrypts for it.
func (e *EncryptionBuilder) Encrypt(ctx context.Context) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	if e.settings.Keys == nil || e.settings.EncryptKeyLocation == "" {
		return "", fmt.Errorf("%w: no encryption key location configured", ErrMissingKey)
	}

	kid := e.settings.EncryptKeyID
	if e.keyID != "" {
		kid = e.keyID
	}

	key, err := e.settings.Keys.EncryptionKey(ctx, e.settings.EncryptKeyLocation, kid)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingKey, err)
	}
	return e.EncryptWith(key)
}
