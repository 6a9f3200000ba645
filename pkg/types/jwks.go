package types

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

var (
	ErrEmptyKeySet  = errors.New("key set is empty")
	ErrKeyNotFound  = errors.New("no matching key in key set")
	ErrAmbiguousKey = errors.New("key set holds several candidate keys, a key id is required")
)

// Key uses as found in the "use" member of a JWK.
const (
	UseSignature  = "sig"
	UseEncryption = "enc"
)

// JWKS is a JSON Web Key Set (RFC 7517 section 5). Keys may hold private material
// when the set was read from a signing or decryption key location.
type JWKS struct {
	Keys []jose.JSONWebKey `json:"keys"`
}

// Find returns the key to use for an operation. With a key id the key must match it.
// Without one, the only key of the set is returned, or the only key whose "use"
// member is use or empty.
func (s *JWKS) Find(kid, use string) (*jose.JSONWebKey, error) {
	if s == nil || len(s.Keys) == 0 {
		return nil, ErrEmptyKeySet
	}

	if kid != "" {
		for i := range s.Keys {
			if s.Keys[i].KeyID == kid {
				return &s.Keys[i], nil
			}
		}
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}

	if len(s.Keys) == 1 {
		return &s.Keys[0], nil
	}

	var found *jose.JSONWebKey
	for i := range s.Keys {
		if s.Keys[i].Use != "" && s.Keys[i].Use != use {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousKey
		}
		found = &s.Keys[i]
	}
	if found == nil {
		return nil, fmt.Errorf("%w: use %q", ErrKeyNotFound, use)
	}
	return found, nil
}

// Public returns a copy of the set with private material removed. Keys that have no
// public part, such as symmetric secrets, are dropped.
func (s *JWKS) Public() *JWKS {
	out := &JWKS{}
	if s == nil {
		return out
	}
	for _, k := range s.Keys {
		if k.IsPublic() {
			out.Keys = append(out.Keys, k)
			continue
		}
		pub := k.Public()
		if pub.Valid() {
			out.Keys = append(out.Keys, pub)
		}
	}
	return out
}

// HasPrivate reports whether any key carries private or symmetric material.
func (s *JWKS) HasPrivate() bool {
	if s == nil {
		return false
	}
	for _, k := range s.Keys {
		if !k.IsPublic() {
			return true
		}
	}
	return false
}
