package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/boogy/jwt-forge/pkg/jwtbuild"
	"github.com/google/uuid"
)

// requestMeta extracts the request ID and elapsed time from ctx
func requestMeta(ctx context.Context) (string, int64) {
	requestID, _ := ctx.Value(RequestIDContextKey).(string)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var processingMS int64
	if startTime, ok := ctx.Value(StartTimeContextKey).(time.Time); ok {
		processingMS = time.Since(startTime).Milliseconds()
	}
	return requestID, processingMS
}

// classifyError maps an error to a status code, a stable error code and a message
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrBodyTooLarge),
		errors.Is(err, ErrMissingClaims), errors.Is(err, ErrClaimsNotObject),
		errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrTooManyHeaders),
		errors.Is(err, ErrEmptyToken), errors.Is(err, ErrTokenTooLarge):
		return http.StatusBadRequest, "invalid_request", "Invalid request parameters"
	case errors.Is(err, jwtbuild.ErrUnsupportedAlgorithm):
		return http.StatusBadRequest, "unsupported_algorithm", "The requested algorithm cannot be used"
	case errors.Is(err, ErrInvalidClaims):
		return http.StatusUnprocessableEntity, "invalid_claims", "The claims document could not be processed"
	case errors.Is(err, ErrTokenRejected):
		return http.StatusUnauthorized, "invalid_token", "The token could not be verified"
	case errors.Is(err, jwtbuild.ErrMissingKey):
		return http.StatusInternalServerError, "key_unavailable", "No usable key is configured"
	case errors.Is(err, jwtbuild.ErrSigningFailed), errors.Is(err, jwtbuild.ErrEncryptionFailed):
		return http.StatusInternalServerError, "issue_failed", "Failed to issue the token"
	}
	return http.StatusInternalServerError, "internal_error", "An internal error occurred"
}

// errorResponse formats a response with an error message
func errorResponse(ctx context.Context, err error) (int, string) {
	requestID, processingMS := requestMeta(ctx)
	statusCode, errCode, errMsg := classifyError(err)

	slog.Error("Request error",
		slog.String("requestId", requestID),
		slog.String("errorCode", errCode),
		slog.String("error", err.Error()),
		slog.Int("status", statusCode),
		slog.Int64("processingMs", processingMS))

	response := Response{
		Success:      false,
		StatusCode:   statusCode,
		ErrorCode:    errCode,
		Message:      errMsg,
		ErrorDetails: err.Error(),
		RequestID:    requestID,
		ProcessingMS: processingMS,
	}

	jsonResponse, jsonErr := json.Marshal(response)
	if jsonErr != nil {
		// Fallback to simple error response if JSON marshalling fails
		return http.StatusInternalServerError, fmt.Sprintf(`{"success":false,"errorCode":%q}`, errCode)
	}
	return statusCode, string(jsonResponse)
}

// successResponse formats a successful response carrying data
func successResponse(ctx context.Context, message string, data any) (int, string) {
	requestID, processingMS := requestMeta(ctx)

	response := Response{
		Success:      true,
		StatusCode:   http.StatusOK,
		Message:      message,
		RequestID:    requestID,
		ProcessingMS: processingMS,
		Data:         data,
	}

	jsonResponse, err := json.Marshal(response)
	if err != nil {
		return errorResponse(ctx, fmt.Errorf("failed to marshal response: %w", err))
	}

	slog.Debug("Response successful",
		slog.String("requestId", requestID),
		slog.Int64("processingMs", processingMS))

	return http.StatusOK, string(jsonResponse)
}

// newRequestContext stores the request tracking values and applies DefaultTimeout
func newRequestContext(ctx context.Context, requestID, sourceIP, userAgent string) (context.Context, context.CancelFunc) {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx = context.WithValue(ctx, RequestIDContextKey, requestID)
	ctx = context.WithValue(ctx, StartTimeContextKey, time.Now())
	ctx = context.WithValue(ctx, SourceIPContextKey, sourceIP)
	ctx = context.WithValue(ctx, UserAgentContextKey, userAgent)

	return context.WithTimeout(ctx, DefaultTimeout)
}

// eventBody returns the request body, decoding it when the event says it is base64
func eventBody(body string, isBase64Encoded bool) (string, error) {
	if !isBase64Encoded {
		return body, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("body is not valid base64: %w", ErrInvalidJSON)
	}
	return string(decoded), nil
}
