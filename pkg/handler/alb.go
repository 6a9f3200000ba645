package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// AwsApplicationLoadBalancer handles AWS Application Load Balancer requests
type AwsApplicationLoadBalancer struct {
	processor *RequestProcessor
}

// NewAwsApplicationLoadBalancer creates a new Application Load Balancer handler
func NewAwsApplicationLoadBalancer(processor *RequestProcessor) *AwsApplicationLoadBalancer {
	return &AwsApplicationLoadBalancer{processor: processor}
}

// Handler is the Lambda function interface for Application Load Balancer
func (h *AwsApplicationLoadBalancer) Handler(ctx context.Context, event events.ALBTargetGroupRequest) (events.ALBTargetGroupResponse, error) {
	// ALB doesn't provide a request ID
	ctx, cancel := newRequestContext(ctx, "",
		event.Headers["x-forwarded-for"],
		event.Headers["user-agent"])
	defer cancel()
	requestID, _ := ctx.Value(RequestIDContextKey).(string)

	log := slog.With(
		slog.String("requestId", requestID),
		slog.String("path", event.Path),
		slog.String("method", event.HTTPMethod),
		slog.String("sourceIp", event.Headers["x-forwarded-for"]),
		slog.String("userAgent", event.Headers["user-agent"]),
		slog.String("targetGroup", event.RequestContext.ELB.TargetGroupArn),
	)

	body, err := eventBody(event.Body, event.IsBase64Encoded)
	if err != nil {
		return h.respond(errorResponse(ctx, err))
	}

	return h.respond(h.processor.Dispatch(ctx, event.Path, body, requestID, log))
}

func (h *AwsApplicationLoadBalancer) respond(statusCode int, body string) (events.ALBTargetGroupResponse, error) {
	return events.ALBTargetGroupResponse{
		StatusCode:        statusCode,
		StatusDescription: fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Headers:           ResponseHeaders,
		Body:              body,
		IsBase64Encoded:   false,
	}, nil
}
