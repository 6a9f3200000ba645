package claims

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Canonical returns the RFC 8785 form of the serialized claim map. Two claim sets
// that differ only in member order have the same canonical form.
func Canonical(m *Map) ([]byte, error) {
	data, err := jsoncanonicalizer.Transform([]byte(Serialize(m)))
	if err != nil {
		return nil, fmt.Errorf("could not canonicalize claims: %w", err)
	}
	return data, nil
}

// Digest returns the hex SHA-256 of the canonical form. It identifies a claim set in
// logs without exposing its content.
func Digest(m *Map) (string, error) {
	data, err := Canonical(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
