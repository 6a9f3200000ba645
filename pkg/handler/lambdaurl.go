package handler

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
)

// AwsLambdaUrl handles AWS Lambda URL requests
type AwsLambdaUrl struct {
	processor *RequestProcessor
}

// NewAwsLambdaUrl creates a new Lambda URL handler
func NewAwsLambdaUrl(processor *RequestProcessor) *AwsLambdaUrl {
	return &AwsLambdaUrl{processor: processor}
}

// Handler is the Lambda function interface for Lambda URLs
func (h *AwsLambdaUrl) Handler(ctx context.Context, event events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	ctx, cancel := newRequestContext(ctx,
		event.RequestContext.RequestID,
		event.RequestContext.HTTP.SourceIP,
		event.RequestContext.HTTP.UserAgent)
	defer cancel()
	requestID, _ := ctx.Value(RequestIDContextKey).(string)

	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("rawPath", event.RawPath),
		slog.String("method", event.RequestContext.HTTP.Method),
		slog.String("sourceIp", event.RequestContext.HTTP.SourceIP),
		slog.String("userAgent", event.RequestContext.HTTP.UserAgent),
		slog.String("requestTime", event.RequestContext.Time),
		slog.String("domainName", event.RequestContext.DomainName),
	)

	body, err := eventBody(event.Body, event.IsBase64Encoded)
	if err != nil {
		return h.respond(errorResponse(ctx, err))
	}

	return h.respond(h.processor.Dispatch(ctx, event.RawPath, body, requestID, log))
}

func (h *AwsLambdaUrl) respond(statusCode int, body string) (events.LambdaFunctionURLResponse, error) {
	return events.LambdaFunctionURLResponse{
		StatusCode:      statusCode,
		Headers:         ResponseHeaders,
		Body:            body,
		IsBase64Encoded: false,
	}, nil
}
