package keys

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/boogy/jwt-forge/pkg/types"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

var ErrUnsupportedKey = errors.New("unsupported key material")

// ParseKeySet accepts a JWK set, a single JWK, or one or more PEM blocks
// (private keys, public keys or certificates).
func ParseKeySet(data []byte) (*types.JWKS, error) {
	data = bytes.TrimSpace(trimBOM(data))
	if len(data) == 0 {
		return nil, types.ErrEmptyKeySet
	}

	if data[0] == '{' {
		return parseJWK(data)
	}
	return parsePEM(data)
}

func parseJWK(data []byte) (*types.JWKS, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrUnsupportedKey)
	}

	if gjson.GetBytes(data, "keys").IsArray() {
		var set types.JWKS
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
		}
		if len(set.Keys) == 0 {
			return nil, types.ErrEmptyKeySet
		}
		return &set, nil
	}

	var key jose.JSONWebKey
	if err := key.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
	}
	return &types.JWKS{Keys: []jose.JSONWebKey{key}}, nil
}

func parsePEM(data []byte) (*types.JWKS, error) {
	set := &types.JWKS{}

	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		key, err := pemKey(block)
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, key)
	}

	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("%w: no PEM block found", ErrUnsupportedKey)
	}
	return set, nil
}

func pemKey(block *pem.Block) (jose.JSONWebKey, error) {
	encoded := pem.EncodeToMemory(block)

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return jose.JSONWebKey{}, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
		}
		return jose.JSONWebKey{Key: cert.PublicKey, Certificates: []*x509.Certificate{cert}}, nil

	case "RSA PRIVATE KEY":
		return wrapKey(jwt.ParseRSAPrivateKeyFromPEM(encoded))

	case "EC PRIVATE KEY":
		return wrapKey(jwt.ParseECPrivateKeyFromPEM(encoded))

	case "RSA PUBLIC KEY":
		return wrapKey(jwt.ParseRSAPublicKeyFromPEM(encoded))

	case "PRIVATE KEY":
		if k, err := jwt.ParseRSAPrivateKeyFromPEM(encoded); err == nil {
			return jose.JSONWebKey{Key: k}, nil
		}
		if k, err := jwt.ParseECPrivateKeyFromPEM(encoded); err == nil {
			return jose.JSONWebKey{Key: k}, nil
		}
		return wrapKey(jwt.ParseEdPrivateKeyFromPEM(encoded))

	case "PUBLIC KEY":
		if k, err := jwt.ParseRSAPublicKeyFromPEM(encoded); err == nil {
			return jose.JSONWebKey{Key: k}, nil
		}
		if k, err := jwt.ParseECPublicKeyFromPEM(encoded); err == nil {
			return jose.JSONWebKey{Key: k}, nil
		}
		return wrapKey(jwt.ParseEdPublicKeyFromPEM(encoded))
	}

	return jose.JSONWebKey{}, fmt.Errorf("%w: PEM block %q", ErrUnsupportedKey, block.Type)
}

func wrapKey[K any](key K, err error) (jose.JSONWebKey, error) {
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
	}
	return jose.JSONWebKey{Key: key}, nil
}
