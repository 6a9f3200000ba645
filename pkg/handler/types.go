package handler

import (
	"encoding/json"
	"errors"
	"time"
)

// Constants for handler configuration
const (
	// DefaultTimeout is the maximum time to process a request
	DefaultTimeout = 10 * time.Second

	// MaxBodySize is the maximum allowed request body
	MaxBodySize = 1024 * 1024 // 1MB

	// MaxTokenLength is the maximum allowed length of a token to verify
	MaxTokenLength = 16384 // 16KB

	// MaxHeaderCount bounds the extra protected headers of one token
	MaxHeaderCount = 32
)

// Token formats a client can request.
const (
	FormatJWS    = "jws"
	FormatJWE    = "jwe"
	FormatNested = "nested"
	FormatJSON   = "json"
)

var Formats = []string{FormatJWS, FormatJWE, FormatNested, FormatJSON}

// Context key types to avoid string collision in context values
type contextKey string

const (
	RequestIDContextKey contextKey = "requestId"
	StartTimeContextKey contextKey = "startTime"
	SourceIPContextKey  contextKey = "sourceIp"
	UserAgentContextKey contextKey = "userAgent"
)

// Custom error types for more precise error reporting
var (
	ErrInvalidJSON       = errors.New("invalid JSON in request body")
	ErrBodyTooLarge      = errors.New("request body exceeds maximum allowed size")
	ErrMissingClaims     = errors.New("claims document is required")
	ErrClaimsNotObject   = errors.New("claims document must be a JSON object")
	ErrUnsupportedFormat = errors.New("unsupported token format")
	ErrTooManyHeaders    = errors.New("too many protected headers")
	ErrInvalidClaims     = errors.New("claims could not be normalized")
	ErrEmptyToken        = errors.New("token is empty")
	ErrTokenTooLarge     = errors.New("token exceeds maximum allowed size")
	ErrTokenRejected     = errors.New("token verification failed")
)

var (
	// ResponseHeaders common headers to include in all API responses
	ResponseHeaders = map[string]string{
		"Content-Type": "application/json",
	}
)

// RequestData is the issue request format expected by the Lambda
type RequestData struct {
	Claims  json.RawMessage `json:"claims"`            // The claims document, a JSON object
	Headers map[string]any  `json:"headers,omitempty"` // Extra protected headers (alg, kid, typ, ...)
	Format  string          `json:"format,omitempty"`  // jws (default), jwe, nested or json
}

// VerifyRequest is the verify request format expected by the Lambda
type VerifyRequest struct {
	Token string `json:"token"`
}

// IssueResult is the data of a successful issue response
type IssueResult struct {
	Token        string `json:"token"`
	Format       string `json:"format"`
	ClaimsDigest string `json:"claimsDigest"`
}

// VerifyResult is the data of a successful verify response
type VerifyResult struct {
	Claims json.RawMessage `json:"claims"`
}

// Response represents a standardized API response
type Response struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"statusCode,omitempty"`
	RequestID    string `json:"requestId"`
	ProcessingMS int64  `json:"processingMs,omitempty"`

	// For successful responses
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`

	// For error responses
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorDetails string `json:"errorDetails,omitempty"`
}
