package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/boogy/jwt-forge/pkg/utils"
	"github.com/tidwall/gjson"
)

// ValidateRequestData validates the issue request fields and fills in the default format
func ValidateRequestData(requestData *RequestData) error {
	claims := bytes.TrimSpace(requestData.Claims)
	if len(claims) == 0 || bytes.Equal(claims, []byte("null")) {
		return ErrMissingClaims
	}

	if !gjson.ParseBytes(claims).IsObject() {
		return ErrClaimsNotObject
	}

	format := strings.ToLower(strings.TrimSpace(requestData.Format))
	if format == "" {
		format = FormatJWS
	}
	if !slices.Contains(Formats, format) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, requestData.Format)
	}
	requestData.Format = format

	if len(requestData.Headers) > MaxHeaderCount {
		return fmt.Errorf("%w: %d > %d", ErrTooManyHeaders, len(requestData.Headers), MaxHeaderCount)
	}

	return nil
}

// ParseRequestBody parses and validates JSON request body into RequestData
func ParseRequestBody(body string) (*RequestData, error) {
	if err := checkBody(body); err != nil {
		return nil, err
	}

	var requestData RequestData
	if err := json.Unmarshal([]byte(body), &requestData); err != nil {
		slog.Error("Failed to unmarshal request body",
			slog.String("error", err.Error()),
			slog.Int("bodySize", len(body)))
		return nil, fmt.Errorf("invalid JSON format: %w", ErrInvalidJSON)
	}

	if err := ValidateRequestData(&requestData); err != nil {
		return nil, err
	}

	return &requestData, nil
}

// ParseVerifyBody parses and validates a JSON verify request body
func ParseVerifyBody(body string) (*VerifyRequest, error) {
	if err := checkBody(body); err != nil {
		return nil, err
	}

	var verifyRequest VerifyRequest
	if err := json.Unmarshal([]byte(body), &verifyRequest); err != nil {
		slog.Error("Failed to unmarshal verify body",
			slog.String("error", err.Error()),
			slog.String("bodyPreview", utils.TruncateString(body, 100)))
		return nil, fmt.Errorf("invalid JSON format: %w", ErrInvalidJSON)
	}

	token := strings.TrimSpace(verifyRequest.Token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return nil, ErrTokenTooLarge
	}
	verifyRequest.Token = token

	return &verifyRequest, nil
}

func checkBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("request body is empty: %w", ErrInvalidJSON)
	}
	if len(body) > MaxBodySize {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	return nil
}

// isVerifyPath routes requests ending in /verify to token verification
func isVerifyPath(path string) bool {
	return strings.HasSuffix(strings.TrimRight(path, "/"), "/verify")
}
