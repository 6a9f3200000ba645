package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	gtvcfg "github.com/boogy/jwt-forge/pkg/config"
	"github.com/boogy/jwt-forge/pkg/utils"
)

// AwsConsumerInterface encapsulates all actions performs with the AWS services
type AwsConsumerInterface interface {
	ReadS3Configuration(ctx context.Context) error
	GetS3Object(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	ReadS3URI(ctx context.Context, uri string) ([]byte, error)
	AWSConfig() aws.Config
}

// AwsConsumer is the implementation of AwsConsumerInterface
type AwsConsumer struct {
	AWS    AwsServiceWrapperInterface
	Config *gtvcfg.Config
}

// NewAwsConsumer creates a new AwsConsumer
func NewAwsConsumer(cfg *gtvcfg.Config) (*AwsConsumer, error) {
	w, err := NewAwsServiceWrapper()
	if err != nil {
		return nil, err
	}
	return &AwsConsumer{
		AWS:    w,
		Config: cfg,
	}, nil
}

// AWSConfig returns the shared AWS configuration.
func (a *AwsConsumer) AWSConfig() aws.Config {
	return a.AWS.Config()
}

// ReadS3Configuration overlays the configuration document stored at the configured
// S3 location on top of the current configuration. The format follows the object
// extension and defaults to JSON.
func (a *AwsConsumer) ReadS3Configuration(ctx context.Context) error {
	if !a.Config.HasS3Configuration() {
		return errors.New("S3ConfigBucket and S3ConfigPath options must be set")
	}

	content, err := a.AWS.GetS3Object(ctx, a.Config.S3ConfigBucket, a.Config.S3ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to get S3 configuration object: %w", err)
	}
	defer func() {
		if cerr := content.Close(); cerr != nil {
			slog.Error("Error closing S3 configuration object", "error", cerr)
		}
	}()

	format := strings.TrimPrefix(path.Ext(a.Config.S3ConfigPath), ".")
	switch format {
	case "yaml", "yml", "json", "toml":
	default:
		format = "json"
	}

	if err := a.Config.Overlay(content, format); err != nil {
		return fmt.Errorf("unable to apply configuration from S3: %w", err)
	}

	slog.Debug("Successfully imported config",
		slog.String("bucket", a.Config.S3ConfigBucket),
		slog.String("path", a.Config.S3ConfigPath))
	return nil
}

// GetS3Object retrieves an object from S3
func (a *AwsConsumer) GetS3Object(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bucket == "" {
		return nil, errors.New("bucket name cannot be empty")
	}

	if key == "" {
		return nil, errors.New("object key cannot be empty")
	}

	return a.AWS.GetS3Object(ctx, bucket, key)
}

// ReadS3URI reads the whole object named by an s3://bucket/key URI.
func (a *AwsConsumer) ReadS3URI(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := utils.SplitS3URI(uri)
	if err != nil {
		return nil, err
	}

	content, err := a.GetS3Object(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	defer func() {
		if cerr := content.Close(); cerr != nil {
			slog.Error("Error closing S3 object", "uri", uri, "error", cerr)
		}
	}()

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", uri, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("empty object retrieved from %s", uri)
	}

	return data, nil
}
