package handler

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
)

// AwsApiGateway handles AWS API Gateway proxy integration requests
type AwsApiGateway struct {
	processor *RequestProcessor
}

// NewAwsApiGateway creates a new API Gateway handler
func NewAwsApiGateway(processor *RequestProcessor) *AwsApiGateway {
	return &AwsApiGateway{processor: processor}
}

// Handler is the Lambda function interface for API Gateway
func (h *AwsApiGateway) Handler(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ctx, cancel := newRequestContext(ctx,
		event.RequestContext.RequestID,
		event.RequestContext.Identity.SourceIP,
		event.RequestContext.Identity.UserAgent)
	defer cancel()
	requestID, _ := ctx.Value(RequestIDContextKey).(string)

	// Add request ID and additional data to all logs for this request
	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("path", event.Path),
		slog.String("method", event.HTTPMethod),
		slog.String("sourceIp", event.RequestContext.Identity.SourceIP),
		slog.String("userAgent", event.RequestContext.Identity.UserAgent),
		slog.String("requestTime", event.RequestContext.RequestTime),
		slog.String("domainName", event.RequestContext.DomainName),
	)

	body, err := eventBody(event.Body, event.IsBase64Encoded)
	if err != nil {
		return h.respond(errorResponse(ctx, err))
	}

	return h.respond(h.processor.Dispatch(ctx, event.Path, body, requestID, log))
}

func (h *AwsApiGateway) respond(statusCode int, body string) (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{
		StatusCode:      statusCode,
		Headers:         ResponseHeaders,
		Body:            body,
		IsBase64Encoded: false,
	}, nil
}
