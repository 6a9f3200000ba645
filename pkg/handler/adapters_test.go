package handler

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestAwsApiGatewayHandler(t *testing.T) {
	env := newTestEnv(t, testConfig()).withSigningKey()
	env.audit.On("Record", mock.Anything).Return(nil)
	h := NewAwsApiGateway(env.processor)

	tests := []struct {
		name     string
		event    events.APIGatewayProxyRequest
		wantCode int
		wantErr  string
	}{
		{
			name: "issue",
			event: events.APIGatewayProxyRequest{
				Path:       "/issue",
				HTTPMethod: "POST",
				Body:       `{"claims":{"sub":"alice"}}`,
			},
			wantCode: 200,
		},
		{
			name: "base64 body",
			event: events.APIGatewayProxyRequest{
				Path:            "/issue",
				HTTPMethod:      "POST",
				Body:            base64.StdEncoding.EncodeToString([]byte(`{"claims":{"sub":"alice"}}`)),
				IsBase64Encoded: true,
			},
			wantCode: 200,
		},
		{
			name: "invalid base64 body",
			event: events.APIGatewayProxyRequest{
				Path:            "/issue",
				Body:            "%%%",
				IsBase64Encoded: true,
			},
			wantCode: 400,
			wantErr:  "invalid_request",
		},
		{
			name: "missing claims",
			event: events.APIGatewayProxyRequest{
				Path: "/issue",
				Body: `{}`,
			},
			wantCode: 400,
			wantErr:  "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.event.RequestContext.RequestID = "apigw-req"

			resp, err := h.Handler(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode, resp.Body)
			assert.Equal(t, "application/json", resp.Headers["Content-Type"])
			assert.False(t, resp.IsBase64Encoded)

			body := gjson.Parse(resp.Body)
			assert.Equal(t, "apigw-req", body.Get("requestId").String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body.Get("errorCode").String())
			} else {
				assert.NotEmpty(t, body.Get("data.token").String())
			}
		})
	}
}

func TestAwsLambdaUrlHandler(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.validator.On("Validate", "bad.token.here").Return(nil, ErrTokenRejected)
	h := NewAwsLambdaUrl(env.processor)

	event := events.LambdaFunctionURLRequest{
		RawPath: "/verify",
		Body:    `{"token":"bad.token.here"}`,
	}
	event.RequestContext.RequestID = "url-req"

	resp, err := h.Handler(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	body := gjson.Parse(resp.Body)
	assert.Equal(t, "url-req", body.Get("requestId").String())
	assert.Equal(t, "invalid_token", body.Get("errorCode").String())
	env.validator.AssertExpectations(t)
}

func TestAwsApplicationLoadBalancerHandler(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.audit.On("Record", mock.Anything).Return(nil)
	h := NewAwsApplicationLoadBalancer(env.processor)

	tests := []struct {
		name            string
		body            string
		wantCode        int
		wantDescription string
	}{
		{name: "issue claims", body: `{"claims":{"sub":"alice"},"format":"json"}`, wantCode: 200, wantDescription: "200 OK"},
		{name: "bad request", body: `not json`, wantCode: 400, wantDescription: "400 Bad Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := events.ALBTargetGroupRequest{
				HTTPMethod: "POST",
				Path:       "/issue",
				Body:       tt.body,
				Headers:    map[string]string{"x-forwarded-for": "10.1.1.1", "user-agent": "curl"},
			}

			resp, err := h.Handler(context.Background(), event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode, resp.Body)
			assert.Equal(t, tt.wantDescription, resp.StatusDescription)

			// ALB events carry no request ID, one is generated
			assert.NotEmpty(t, gjson.Get(resp.Body, "requestId").String())
		})
	}
}
