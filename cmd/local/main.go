package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/boogy/jwt-forge/pkg/handler"
	"github.com/boogy/jwt-forge/pkg/version"
)

// Settings for the local server
type ServerSettings struct {
	Port            int
	ConfigPath      string
	LogLevel        string
	SimulateLatency time.Duration
}

func main() {
	settings := parseCliFlags()

	versionInfo := version.Get()
	bootstrap, err := handler.NewBootstrap(context.Background())
	if err != nil {
		slog.Error("Failed to initialize", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer bootstrap.Cleanup()

	handlerFunc := handler.NewAwsApiGatewayFromBootstrap(bootstrap).Handler

	mux := http.NewServeMux()
	mux.HandleFunc("/issue", proxy(handlerFunc, settings))
	mux.HandleFunc("/verify", proxy(handlerFunc, settings))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": versionInfo.Version}); err != nil {
			slog.Error("Error encoding health check response", "error", err)
		}
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		slog.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Starting local development server",
		slog.Int("port", settings.Port),
		slog.String("issueEndpoint", fmt.Sprintf("http://localhost:%d/issue", settings.Port)),
		slog.String("verifyEndpoint", fmt.Sprintf("http://localhost:%d/verify", settings.Port)),
		slog.String("healthEndpoint", fmt.Sprintf("http://localhost:%d/health", settings.Port)))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("Server stopped")
}

// proxy converts an HTTP request into an API Gateway event and writes back the handler response
func proxy(handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error), settings ServerSettings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if settings.SimulateLatency > 0 {
			time.Sleep(settings.SimulateLatency)
		}

		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, handler.MaxBodySize+1))
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}
		defer func() {
			if err := r.Body.Close(); err != nil {
				slog.Error("Error closing request body", "error", err)
			}
		}()

		event := events.APIGatewayProxyRequest{
			Body:                  string(body),
			Path:                  r.URL.Path,
			HTTPMethod:            r.Method,
			Headers:               make(map[string]string),
			QueryStringParameters: make(map[string]string),
			PathParameters:        make(map[string]string),
		}
		event.RequestContext.Identity.SourceIP = r.RemoteAddr
		event.RequestContext.Identity.UserAgent = r.UserAgent()

		for k, v := range r.Header {
			if len(v) > 0 {
				event.Headers[k] = v[0]
			}
		}
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				event.QueryStringParameters[k] = v[0]
			}
		}

		response, err := handlerFunc(r.Context(), event)
		if err != nil {
			slog.Error("Handler error", slog.String("error", err.Error()))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		for k, v := range response.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(response.StatusCode)
		if _, err := w.Write([]byte(response.Body)); err != nil {
			slog.Error("Error writing response", "error", err)
		}
	}
}

func parseCliFlags() ServerSettings {
	settings := ServerSettings{}

	flag.IntVar(&settings.Port, "port", 8080, "Port to listen on")
	flag.StringVar(&settings.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&settings.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&settings.SimulateLatency, "latency", 0, "Simulate network latency (e.g., 100ms)")

	flag.Parse()

	// The bootstrap reads both from the environment
	if settings.ConfigPath != "" {
		if err := os.Setenv("CONFIG_PATH", settings.ConfigPath); err != nil {
			slog.Error("Error setting CONFIG_PATH environment variable", "error", err)
		}
	}
	if err := os.Setenv("LOG_LEVEL", settings.LogLevel); err != nil {
		slog.Error("Error setting LOG_LEVEL environment variable", "error", err)
	}

	return settings
}
