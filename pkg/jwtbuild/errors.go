package jwtbuild

import "errors"

var (
	ErrEmptyClaimName       = errors.New("claim name must not be empty")
	ErrNilClaimValue        = errors.New("claim value must not be nil")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrMissingKey           = errors.New("missing key")
	ErrSigningFailed        = errors.New("signing failed")
	ErrEncryptionFailed     = errors.New("encryption failed")
)
