package claims

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedDelimitedString = errors.New("malformed delimited string")
	ErrCyclicOrUnbounded        = errors.New("cyclic or unbounded input")
	ErrInvalidJSON              = errors.New("invalid JSON")
	ErrNotAnObject              = errors.New("document is not an object")
	ErrDuplicateClaim           = errors.New("duplicate claim name")
)

// PathError records the claim path of the value that failed to normalize.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

func keyPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}
