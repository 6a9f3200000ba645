package jwtbuild

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"slices"
	"strings"

	"github.com/boogy/jwt-forge/pkg/config"
	"github.com/go-jose/go-jose/v4"
)

// unwrapKey accepts raw keys and JWKs. The JWK members kid and alg are returned
// so they can fill headers the caller left unset.
func unwrapKey(key any) (raw any, kid, alg string) {
	switch k := key.(type) {
	case *jose.JSONWebKey:
		if k == nil {
			return nil, "", ""
		}
		return k.Key, k.KeyID, k.Algorithm
	case jose.JSONWebKey:
		return k.Key, k.KeyID, k.Algorithm
	case string:
		return []byte(k), "", ""
	}
	return key, "", ""
}

func isSignatureAlgorithm(alg string) bool {
	return slices.Contains(config.SignatureAlgorithms, alg)
}

func isKeyAlgorithm(alg string) bool {
	return slices.Contains(config.KeyEncryptionAlgorithms, alg)
}

func isContentAlgorithm(enc string) bool {
	return slices.Contains(config.ContentEncryptionAlgorithms, enc)
}

// signatureAlgorithm picks, in order: the explicit algorithm, the JWK "alg",
// the configured default when it fits the key, and finally one derived from the key.
func signatureAlgorithm(explicit, fromKey, configured string, key any) (string, error) {
	for _, alg := range []string{explicit, fromKey} {
		if alg == "" {
			continue
		}
		if !isSignatureAlgorithm(alg) {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
		}
		if !signsWith(alg, key) {
			return "", fmt.Errorf("%w: %s cannot be used with a %T key", ErrUnsupportedAlgorithm, alg, key)
		}
		return alg, nil
	}

	if configured != "" && signsWith(configured, key) {
		return configured, nil
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		return "RS256", nil
	case *ecdsa.PrivateKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return "ES256", nil
		case 384:
			return "ES384", nil
		case 521:
			return "ES512", nil
		}
	case ed25519.PrivateKey:
		return "EdDSA", nil
	case []byte:
		return "HS256", nil
	}
	return "", fmt.Errorf("%w: no signature algorithm for a %T key", ErrUnsupportedAlgorithm, key)
}

func signsWith(alg string, key any) bool {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PrivateKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return alg == "ES256"
		case 384:
			return alg == "ES384"
		case 521:
			return alg == "ES512"
		}
	case ed25519.PrivateKey:
		return alg == "EdDSA"
	case []byte:
		return strings.HasPrefix(alg, "HS")
	}
	return false
}

// encryptionKey converts private keys to the public half go-jose encrypts with.
func encryptionKey(key any) any {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	}
	return key
}

// keyAlgorithm follows the same precedence as signatureAlgorithm for JWE "alg".
func keyAlgorithm(explicit, fromKey, configured string, key any) (string, error) {
	for _, alg := range []string{explicit, fromKey} {
		if alg == "" {
			continue
		}
		if !isKeyAlgorithm(alg) {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
		}
		if !encryptsWith(alg, key) {
			return "", fmt.Errorf("%w: %s cannot be used with a %T key", ErrUnsupportedAlgorithm, alg, key)
		}
		return alg, nil
	}

	if configured != "" && encryptsWith(configured, key) {
		return configured, nil
	}

	switch k := key.(type) {
	case *rsa.PublicKey:
		return "RSA-OAEP-256", nil
	case *ecdsa.PublicKey:
		return "ECDH-ES+A256KW", nil
	case []byte:
		switch len(k) {
		case 16:
			return "A128KW", nil
		case 24:
			return "A192KW", nil
		case 32:
			return "A256KW", nil
		}
	}
	return "", fmt.Errorf("%w: no key encryption algorithm for a %T key", ErrUnsupportedAlgorithm, key)
}

func encryptsWith(alg string, key any) bool {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RSA-")
	case *ecdsa.PublicKey:
		return strings.HasPrefix(alg, "ECDH-ES")
	case []byte:
		switch alg {
		case "A128KW":
			return len(k) == 16
		case "A192KW":
			return len(k) == 24
		case "A256KW":
			return len(k) == 32
		case "dir":
			return true
		}
	}
	return false
}
