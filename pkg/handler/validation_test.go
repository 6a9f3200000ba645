package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/boogy/jwt-forge/pkg/jwtbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequestData(t *testing.T) {
	tooManyHeaders := make(map[string]any, MaxHeaderCount+1)
	for i := range MaxHeaderCount + 1 {
		tooManyHeaders[fmt.Sprintf("h%d", i)] = i
	}

	tests := []struct {
		name       string
		data       RequestData
		wantErr    error
		wantFormat string
	}{
		{name: "defaults to jws", data: RequestData{Claims: json.RawMessage(`{"sub":"a"}`)}, wantFormat: FormatJWS},
		{name: "format is case insensitive", data: RequestData{Claims: json.RawMessage(`{}`), Format: " Nested "}, wantFormat: FormatNested},
		{name: "missing claims", data: RequestData{}, wantErr: ErrMissingClaims},
		{name: "null claims", data: RequestData{Claims: json.RawMessage(` null `)}, wantErr: ErrMissingClaims},
		{name: "string claims", data: RequestData{Claims: json.RawMessage(`"sub"`)}, wantErr: ErrClaimsNotObject},
		{name: "array claims", data: RequestData{Claims: json.RawMessage(`[{}]`)}, wantErr: ErrClaimsNotObject},
		{name: "unknown format", data: RequestData{Claims: json.RawMessage(`{}`), Format: "saml"}, wantErr: ErrUnsupportedFormat},
		{name: "too many headers", data: RequestData{Claims: json.RawMessage(`{}`), Headers: tooManyHeaders}, wantErr: ErrTooManyHeaders},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequestData(&tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, tt.data.Format)
		})
	}
}

func TestParseRequestBody(t *testing.T) {
	data, err := ParseRequestBody(`{"claims":{"sub":"a","n":1.50},"headers":{"kid":"k1"}}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub":"a","n":1.50}`, string(data.Claims))
	assert.Equal(t, "k1", data.Headers["kid"])
	assert.Equal(t, FormatJWS, data.Format)

	_, err = ParseRequestBody(`{"claims":{"pad":"` + strings.Repeat("x", MaxBodySize) + `"}}`)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	_, err = ParseRequestBody("   ")
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestIsVerifyPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/verify", true},
		{"/verify/", true},
		{"/prod/verify", true},
		{"/issue", false},
		{"/", false},
		{"", false},
		{"/verifyx", false},
		{"/verify/issue", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isVerifyPath(tt.path))
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid json", fmt.Errorf("wrapped: %w", ErrInvalidJSON), http.StatusBadRequest, "invalid_request"},
		{"body too large", ErrBodyTooLarge, http.StatusBadRequest, "invalid_request"},
		{"unsupported algorithm", fmt.Errorf("%w: HS1", jwtbuild.ErrUnsupportedAlgorithm), http.StatusBadRequest, "unsupported_algorithm"},
		{"invalid claims", fmt.Errorf("%w: depth", ErrInvalidClaims), http.StatusUnprocessableEntity, "invalid_claims"},
		{"rejected token", fmt.Errorf("%w: expired", ErrTokenRejected), http.StatusUnauthorized, "invalid_token"},
		{"missing key", fmt.Errorf("%w: denied", jwtbuild.ErrMissingKey), http.StatusInternalServerError, "key_unavailable"},
		{"signing failed", jwtbuild.ErrSigningFailed, http.StatusInternalServerError, "issue_failed"},
		{"encryption failed", jwtbuild.ErrEncryptionFailed, http.StatusInternalServerError, "issue_failed"},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, msg := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestErrorResponse(t *testing.T) {
	ctx, cancel := newRequestContext(context.Background(), "req-9", "", "")
	defer cancel()

	status, body := errorResponse(ctx, ErrMissingClaims)
	assert.Equal(t, http.StatusBadRequest, status)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "req-9", resp.RequestID)
	assert.Equal(t, ErrMissingClaims.Error(), resp.ErrorDetails)
}

func TestNewRequestContext(t *testing.T) {
	ctx, cancel := newRequestContext(context.Background(), "", "10.0.0.1", "ua")
	defer cancel()

	requestID, _ := ctx.Value(RequestIDContextKey).(string)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, "10.0.0.1", ctx.Value(SourceIPContextKey))
	assert.Equal(t, "ua", ctx.Value(UserAgentContextKey))

	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
}
