package types

import (
	"fmt"
	"math"
	"time"

	"github.com/boogy/jwt-forge/pkg/claims"
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is a JWT payload backed by an ordered claim map. It satisfies
// jwt.Claims so golang-jwt can sign and validate it, and it encodes with the
// claims serializer so member order and number formatting are preserved.
type TokenClaims struct {
	*claims.Map
}

var _ jwt.Claims = TokenClaims{}

func (c TokenClaims) MarshalJSON() ([]byte, error) {
	if c.Map == nil {
		return []byte("{}"), nil
	}
	return []byte(claims.Serialize(c.Map)), nil
}

func (c *TokenClaims) UnmarshalJSON(data []byte) error {
	m, err := claims.ParseJSON(data)
	if err != nil {
		return err
	}
	c.Map = m
	return nil
}

func (c TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return c.numericDate("exp")
}

func (c TokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return c.numericDate("iat")
}

func (c TokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return c.numericDate("nbf")
}

func (c TokenClaims) GetIssuer() (string, error) {
	return c.stringClaim("iss")
}

func (c TokenClaims) GetSubject() (string, error) {
	return c.stringClaim("sub")
}

// GetAudience accepts both the single string and the list form of "aud".
func (c TokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	v, ok := c.lookup("aud")
	if !ok {
		return nil, nil
	}
	switch aud := v.(type) {
	case claims.String:
		return jwt.ClaimStrings{string(aud)}, nil
	case claims.List:
		out := make(jwt.ClaimStrings, 0, len(aud))
		for _, item := range aud {
			s, ok := item.(claims.String)
			if !ok {
				return nil, fmt.Errorf("%w: aud holds a %s", jwt.ErrInvalidType, item.Kind())
			}
			out = append(out, string(s))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: aud is a %s", jwt.ErrInvalidType, v.Kind())
}

func (c TokenClaims) lookup(name string) (claims.Value, bool) {
	if c.Map == nil {
		return nil, false
	}
	v, ok := c.Get(name)
	if !ok {
		return nil, false
	}
	if _, null := v.(claims.Null); null {
		return nil, false
	}
	return v, true
}

func (c TokenClaims) stringClaim(name string) (string, error) {
	v, ok := c.lookup(name)
	if !ok {
		return "", nil
	}
	s, ok := v.(claims.String)
	if !ok {
		return "", fmt.Errorf("%w: %s is a %s", jwt.ErrInvalidType, name, v.Kind())
	}
	return string(s), nil
}

func (c TokenClaims) numericDate(name string) (*jwt.NumericDate, error) {
	v, ok := c.lookup(name)
	if !ok {
		return nil, nil
	}
	switch n := v.(type) {
	case claims.Integer:
		return jwt.NewNumericDate(time.Unix(int64(n), 0)), nil
	case claims.Float:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s is not finite", jwt.ErrInvalidType, name)
		}
		sec, frac := math.Modf(f)
		return jwt.NewNumericDate(time.Unix(int64(sec), int64(frac*1e9))), nil
	}
	return nil, fmt.Errorf("%w: %s is a %s", jwt.ErrInvalidType, name, v.Kind())
}
