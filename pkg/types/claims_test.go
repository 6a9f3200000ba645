package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/boogy/jwt-forge/pkg/claims"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenClaims(t *testing.T, doc string) TokenClaims {
	t.Helper()
	var tc TokenClaims
	require.NoError(t, json.Unmarshal([]byte(doc), &tc))
	return tc
}

func TestTokenClaimsJSON(t *testing.T) {
	tc := tokenClaims(t, `{"sub":"alice","aud":["a","b"],"n":1.0,"skip":null}`)

	out, err := json.Marshal(tc)
	require.NoError(t, err)
	assert.Equal(t, `{"sub":"alice","aud":["a","b"],"n":1.0}`, string(out))

	out, err = json.Marshal(TokenClaims{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))

	var bad TokenClaims
	assert.ErrorIs(t, json.Unmarshal([]byte(`["not","an","object"]`), &bad), claims.ErrNotAnObject)
}

func TestTokenClaimsRegistered(t *testing.T) {
	tc := tokenClaims(t, `{"iss":"forge","sub":"alice","aud":"api","exp":1700000300,"iat":1700000000.5,"nbf":null}`)

	iss, err := tc.GetIssuer()
	require.NoError(t, err)
	assert.Equal(t, "forge", iss)

	sub, err := tc.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	aud, err := tc.GetAudience()
	require.NoError(t, err)
	assert.Equal(t, jwt.ClaimStrings{"api"}, aud)

	exp, err := tc.GetExpirationTime()
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000300, 0), exp.Time)

	iat, err := tc.GetIssuedAt()
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), iat.Time, "numeric dates have second precision")

	nbf, err := tc.GetNotBefore()
	require.NoError(t, err)
	assert.Nil(t, nbf, "null is treated as absent")
}

func TestTokenClaimsInvalidTypes(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		check func(TokenClaims) error
	}{
		{"numeric issuer", `{"iss":1}`, func(c TokenClaims) error { _, err := c.GetIssuer(); return err }},
		{"list subject", `{"sub":["a"]}`, func(c TokenClaims) error { _, err := c.GetSubject(); return err }},
		{"numeric audience", `{"aud":3}`, func(c TokenClaims) error { _, err := c.GetAudience(); return err }},
		{"mixed audience list", `{"aud":["a",1]}`, func(c TokenClaims) error { _, err := c.GetAudience(); return err }},
		{"string expiry", `{"exp":"tomorrow"}`, func(c TokenClaims) error { _, err := c.GetExpirationTime(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.check(tokenClaims(t, tt.doc)), jwt.ErrInvalidType)
		})
	}
}

func TestTokenClaimsNonFiniteDate(t *testing.T) {
	m := claims.NewMap(1)
	m.Set("exp", claims.Float(math.Inf(1)))

	_, err := TokenClaims{Map: m}.GetExpirationTime()
	assert.ErrorIs(t, err, jwt.ErrInvalidType)
}

func TestTokenClaimsAbsent(t *testing.T) {
	var tc TokenClaims

	iss, err := tc.GetIssuer()
	require.NoError(t, err)
	assert.Empty(t, iss)

	aud, err := tc.GetAudience()
	require.NoError(t, err)
	assert.Nil(t, aud)

	exp, err := tc.GetExpirationTime()
	require.NoError(t, err)
	assert.Nil(t, exp)
}
