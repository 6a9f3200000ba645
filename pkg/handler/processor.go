package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/boogy/jwt-forge/pkg/claims"
	"github.com/boogy/jwt-forge/pkg/config"
	"github.com/boogy/jwt-forge/pkg/jwtbuild"
	"github.com/boogy/jwt-forge/pkg/s3logger"
	"github.com/boogy/jwt-forge/pkg/utils"
	"github.com/boogy/jwt-forge/pkg/validator"
	"github.com/tidwall/gjson"
)

// RequestProcessor contains the core logic for issuing and verifying tokens
type RequestProcessor struct {
	config    *config.Config
	settings  jwtbuild.Settings
	validator validator.TokenValidatorInterface
	audit     s3logger.LoggerInterface
}

// NewRequestProcessor creates a new instance of request processor. audit may be nil.
func NewRequestProcessor(cfg *config.Config, keys jwtbuild.KeySource, validator validator.TokenValidatorInterface, audit s3logger.LoggerInterface, opts ...jwtbuild.Option) *RequestProcessor {
	settings := jwtbuild.SettingsFromConfig(cfg, keys)
	for _, opt := range opts {
		opt(&settings)
	}

	return &RequestProcessor{
		config:    cfg,
		settings:  settings,
		validator: validator,
		audit:     audit,
	}
}

// Dispatch parses body for the route of path and returns the status code and JSON
// response body. Paths ending in /verify verify a token, anything else issues one.
func (r *RequestProcessor) Dispatch(ctx context.Context, path, body, requestID string, log *slog.Logger) (int, string) {
	if isVerifyPath(path) {
		verifyRequest, err := ParseVerifyBody(body)
		if err != nil {
			return errorResponse(ctx, err)
		}
		result, err := r.VerifyToken(ctx, verifyRequest, log)
		if err != nil {
			return errorResponse(ctx, err)
		}
		return successResponse(ctx, "Token verified", result)
	}

	requestData, err := ParseRequestBody(body)
	if err != nil {
		return errorResponse(ctx, err)
	}
	result, err := r.ProcessRequest(ctx, requestData, requestID, log)
	if err != nil {
		return errorResponse(ctx, err)
	}
	return successResponse(ctx, "Token issued", result)
}

// ProcessRequest builds the token described by requestData
func (r *RequestProcessor) ProcessRequest(ctx context.Context, requestData *RequestData, requestID string, log *slog.Logger) (*IssueResult, error) {
	startTime, _ := ctx.Value(StartTimeContextKey).(time.Time)

	document, err := r.settings.Normalizer.ParseJSON(requestData.Claims)
	if err != nil {
		log.Error("Failed to parse claims", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}

	// Defaults are resolved once so the digest, the audit record and the token agree.
	final, err := jwtbuild.FromClaims(document, jwtbuild.WithSettings(r.settings)).Final()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}

	digest, err := claims.Digest(final)
	if err != nil {
		log.Error("Failed to digest claims", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}

	log = log.With(
		slog.Group("token",
			slog.String("format", requestData.Format),
			slog.String("jti", stringClaim(final, jwtbuild.ClaimTokenID)),
			slog.String("sub", stringClaim(final, jwtbuild.ClaimSubject)),
			slog.String("claimsDigest", digest),
		),
	)

	token, err := r.issue(ctx, final, requestData)
	if err != nil {
		log.Error("Failed to issue token", slog.String("error", err.Error()))
		return nil, err
	}

	header := tokenHeader(token)
	if r.audit != nil {
		rec := s3logger.IssuanceRecord{
			TokenID:      stringClaim(final, jwtbuild.ClaimTokenID),
			Subject:      stringClaim(final, jwtbuild.ClaimSubject),
			Format:       requestData.Format,
			KeyID:        header.Get("kid").String(),
			Algorithm:    header.Get("alg").String(),
			ClaimsDigest: digest,
			IssuedAt:     time.Now().UTC(),
			RequestID:    requestID,
		}
		if err := r.audit.Record(ctx, rec); err != nil {
			log.Error("Failed to record issuance", slog.String("error", err.Error()))
		}
	}

	log.Info("Token issued",
		slog.String("token", utils.RedactToken(token, 10, 10)),
		slog.String("kid", header.Get("kid").String()),
		slog.Duration("totalTime", time.Since(startTime)))

	return &IssueResult{
		Token:        token,
		Format:       requestData.Format,
		ClaimsDigest: digest,
	}, nil
}

// issue serializes final in the requested format. Extra headers go to the JWS of a
// nested token.
func (r *RequestProcessor) issue(ctx context.Context, final *claims.Map, requestData *RequestData) (string, error) {
	b := jwtbuild.FromClaims(final, jwtbuild.WithSettings(r.settings))
	names := slices.Sorted(maps.Keys(requestData.Headers))

	switch requestData.Format {
	case FormatJSON:
		return claims.Serialize(final), nil

	case FormatJWE:
		e := b.JWE()
		for _, name := range names {
			e.Header(name, requestData.Headers[name])
		}
		return e.Encrypt(ctx)

	case FormatNested:
		s := b.JWS()
		for _, name := range names {
			s.Header(name, requestData.Headers[name])
		}
		return s.InnerSign(ctx).Encrypt(ctx)

	default:
		s := b.JWS()
		for _, name := range names {
			s.Header(name, requestData.Headers[name])
		}
		return s.Sign(ctx)
	}
}

// VerifyToken checks a token issued by this service and returns its claims
func (r *RequestProcessor) VerifyToken(ctx context.Context, verifyRequest *VerifyRequest, log *slog.Logger) (*VerifyResult, error) {
	redactedToken := utils.RedactToken(verifyRequest.Token, 10, 10)
	log.Debug("Validating token", slog.String("token", redactedToken))

	if r.validator == nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRejected, validator.ErrNoVerifyKey)
	}

	m, err := r.validator.Validate(ctx, verifyRequest.Token)
	if err != nil {
		log.Error("Token validation failed",
			slog.String("error", err.Error()),
			slog.String("token", redactedToken))
		return nil, fmt.Errorf("%w: %w", ErrTokenRejected, err)
	}

	log.Info("Token validation successful",
		slog.String("jti", stringClaim(m, jwtbuild.ClaimTokenID)),
		slog.String("sub", stringClaim(m, jwtbuild.ClaimSubject)))

	return &VerifyResult{Claims: json.RawMessage(claims.Serialize(m))}, nil
}

func stringClaim(m *claims.Map, name string) string {
	v, _ := m.Get(name)
	s, _ := v.(claims.String)
	return string(s)
}

// tokenHeader decodes the protected header of a compact JWS or JWE.
func tokenHeader(token string) gjson.Result {
	segment, _, ok := strings.Cut(token, ".")
	if !ok {
		return gjson.Result{}
	}
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}
