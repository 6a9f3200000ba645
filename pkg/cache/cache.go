package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/boogy/jwt-forge/pkg/config"
	"github.com/boogy/jwt-forge/pkg/types"
)

// CacheDefaults holds all default configuration values for cache implementations
type CacheDefaults struct {
	Timeout      time.Duration
	TTL          time.Duration
	MaxLocalSize int

	MaxItemSize         int64 // Maximum size of a serialized key set
	DynamoDBMaxItemSize int64 // DynamoDB hard limit is 400KB per item
}

// Defaults provides the default configuration values for all cache implementations
var Defaults = CacheDefaults{
	Timeout:             10 * time.Second,
	TTL:                 time.Hour,
	MaxLocalSize:        10,
	MaxItemSize:         512 * 1024,
	DynamoDBMaxItemSize: 400 * 1024,
}

var ErrMissingSetting = errors.New("missing cache setting")

// Cache stores key sets by location. Remote stores only ever persist the public
// projection of a set; the full set stays in process memory.
type Cache interface {
	Get(ctx context.Context, key string) (*types.JWKS, bool)
	Set(ctx context.Context, key string, value *types.JWKS, ttl time.Duration)
}

// GetConfiguredTTL returns the TTL from config or the default if not specified
func GetConfiguredTTL(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Cache != nil && cfg.Cache.TTL > 0 {
		return cfg.Cache.TTL
	}
	return Defaults.TTL
}

// GetConfiguredMaxLocalSize returns the max local size from config or the default if not specified
func GetConfiguredMaxLocalSize(cfg *config.Config) int {
	if cfg != nil && cfg.Cache != nil && cfg.Cache.MaxLocalSize > 0 {
		return cfg.Cache.MaxLocalSize
	}
	return Defaults.MaxLocalSize
}

// NewCache creates the cache selected by cfg.Cache.Type. AWS backed caches build
// their clients from awsCfg.
func NewCache(cfg *config.Config, awsCfg aws.Config) (Cache, error) {
	ttl := GetConfiguredTTL(cfg)
	size := GetConfiguredMaxLocalSize(cfg)

	if cfg == nil || cfg.Cache == nil {
		return NewMemoryCache(size, ttl), nil
	}

	switch cfg.Cache.Type {
	case "", "memory":
		return NewMemoryCache(size, ttl), nil

	case "dynamodb":
		if cfg.Cache.DynamoDBTable == "" {
			return nil, fmt.Errorf("%w: dynamodb_table is required for the dynamodb cache", ErrMissingSetting)
		}
		return NewDynamoDBCache(dynamodb.NewFromConfig(awsCfg), cfg.Cache.DynamoDBTable, size, ttl), nil

	case "s3":
		if cfg.Cache.S3Bucket == "" {
			return nil, fmt.Errorf("%w: s3_bucket is required for the s3 cache", ErrMissingSetting)
		}
		return NewS3Cache(s3.NewFromConfig(awsCfg), cfg.Cache.S3Bucket, cfg.Cache.S3Prefix, size, ttl), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}
}
