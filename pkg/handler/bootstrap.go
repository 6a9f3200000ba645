package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/boogy/jwt-forge/pkg/aws"
	"github.com/boogy/jwt-forge/pkg/cache"
	"github.com/boogy/jwt-forge/pkg/config"
	"github.com/boogy/jwt-forge/pkg/keys"
	s3logger "github.com/boogy/jwt-forge/pkg/s3logger"
	"github.com/boogy/jwt-forge/pkg/utils"
	"github.com/boogy/jwt-forge/pkg/validator"
	"github.com/boogy/jwt-forge/pkg/version"
)

// Bootstrap contains all the initialized components needed by handlers
type Bootstrap struct {
	Config    *config.Config
	Consumer  aws.AwsConsumerInterface
	Keys      *keys.Locator
	Validator validator.TokenValidatorInterface
	Cache     cache.Cache
	S3Logger  *s3logger.S3Logger
	Logger    *slog.Logger
}

// NewBootstrap initializes all common components needed by Lambda handlers
func NewBootstrap(ctx context.Context) (*Bootstrap, error) {
	versionInfo := version.Get()

	// Initialize logger first, S3 shipping is attached once the configuration is known
	logger := initializeLogger(os.Stdout)

	logger.Info(
		fmt.Sprintf("Starting %s", versionInfo.BinName),
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("date", versionInfo.Date),
		slog.String("goVersion", versionInfo.GoVersion),
	)

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	consumer, err := aws.NewAwsConsumer(cfg)
	if err != nil {
		logger.Error("Failed to initialize AWS consumer", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to initialize AWS consumer: %w", err)
	}

	// Read S3 configuration if provided
	if cfg.HasS3Configuration() {
		if err := consumer.ReadS3Configuration(ctx); err != nil {
			logger.Error("Failed to read S3 configuration", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to read S3 configuration: %w", err)
		}
	}

	s3log := s3logger.NewS3Logger(cfg, consumer.AWSConfig())
	if s3log.Enabled() {
		logger = initializeLogger(os.Stdout, s3log)
	}

	keySetCache, err := cache.NewCache(cfg, consumer.AWSConfig())
	if err != nil {
		logger.Error("Failed to initialize cache", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	locator := keys.NewLocator(
		keys.WithS3(consumer),
		keys.WithCache(keySetCache, cache.GetConfiguredTTL(cfg)),
	)

	tokenValidator := validator.NewTokenValidator(cfg, locator)

	logger.Debug("Bootstrap complete",
		slog.Bool("s3Logging", s3log.Enabled()),
		slog.Bool("signEnabled", cfg.SignKeyLocation != ""),
		slog.Bool("encryptEnabled", cfg.EncryptKeyLocation != ""),
		slog.Bool("verifyEnabled", cfg.VerifyKeyLocation != ""))

	return &Bootstrap{
		Config:    cfg,
		Consumer:  consumer,
		Keys:      locator,
		Validator: tokenValidator,
		Cache:     keySetCache,
		S3Logger:  s3log,
		Logger:    logger,
	}, nil
}

// Cleanup handles cleanup operations for the bootstrap components
func (b *Bootstrap) Cleanup() {
	if b.S3Logger == nil {
		return
	}
	if err := b.S3Logger.Close(); err != nil {
		b.Logger.Error("Failed to flush logs to S3", slog.String("error", err.Error()))
	}
}

// initializeLogger sets up the global JSON logger writing to every writer
func initializeLogger(writers ...io.Writer) *slog.Logger {
	var programLevel = new(slog.LevelVar) // Default to Info
	programLevel.Set(slog.LevelInfo)

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel != "" {
		if level, err := utils.ParseLogLevel(logLevel); err == nil {
			programLevel.Set(level)
		} else {
			slog.Info("Invalid LOG_LEVEL, defaulting to Info", slog.String("level", logLevel), slog.String("error", err.Error()))
		}
	}

	logHandler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: programLevel,
	})

	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	return logger
}

// NewRequestProcessorFromBootstrap creates the request processor shared by all handlers
func NewRequestProcessorFromBootstrap(bootstrap *Bootstrap) *RequestProcessor {
	return NewRequestProcessor(bootstrap.Config, bootstrap.Keys, bootstrap.Validator, bootstrap.S3Logger)
}

// NewAwsApiGatewayFromBootstrap creates a new API Gateway handler using bootstrap
func NewAwsApiGatewayFromBootstrap(bootstrap *Bootstrap) *AwsApiGateway {
	return NewAwsApiGateway(NewRequestProcessorFromBootstrap(bootstrap))
}

// NewAwsLambdaUrlFromBootstrap creates a new Lambda URL handler using bootstrap
func NewAwsLambdaUrlFromBootstrap(bootstrap *Bootstrap) *AwsLambdaUrl {
	return NewAwsLambdaUrl(NewRequestProcessorFromBootstrap(bootstrap))
}

// NewAwsApplicationLoadBalancerFromBootstrap creates a new ALB handler using bootstrap
func NewAwsApplicationLoadBalancerFromBootstrap(bootstrap *Bootstrap) *AwsApplicationLoadBalancer {
	return NewAwsApplicationLoadBalancer(NewRequestProcessorFromBootstrap(bootstrap))
}
