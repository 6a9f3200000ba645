package config

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/boogy/jwt-forge/pkg/utils"
	"github.com/spf13/viper"
)

var (
	once                       sync.Once
	instance                   *Config
	lifespan                   = "5m"           // Default token lifespan
	signatureAlgorithm         = "RS256"        // Default JWS algorithm
	keyEncryptionAlgorithm     = "RSA-OAEP-256" // Default JWE key management algorithm
	contentEncryptionAlgorithm = "A256GCM"      // Default JWE content encryption algorithm
	maxDepth                   = 64             // Default claim nesting limit
	cacheType                  = "memory"       // Default key set cache type
	cacheTTL                   = "1h"           // Default key set cache TTL
	cacheMaxLocalSize          = 10             // Default max local size for memory cache
)

var (
	SignatureAlgorithms = []string{
		"RS256", "RS384", "RS512",
		"PS256", "PS384", "PS512",
		"ES256", "ES384", "ES512",
		"EdDSA",
		"HS256", "HS384", "HS512",
	}
	KeyEncryptionAlgorithms = []string{
		"RSA-OAEP", "RSA-OAEP-256",
		"ECDH-ES", "ECDH-ES+A128KW", "ECDH-ES+A192KW", "ECDH-ES+A256KW",
		"A128KW", "A192KW", "A256KW",
		"dir",
	}
	ContentEncryptionAlgorithms = []string{
		"A128GCM", "A192GCM", "A256GCM",
		"A128CBC-HS256", "A192CBC-HS384", "A256CBC-HS512",
	}
	CacheTypes = []string{"memory", "s3", "dynamodb"}
)

type Cache struct {
	Type          string        `mapstructure:"type"`           // Cache type ("memory", "s3" or "dynamodb")
	TTL           time.Duration `mapstructure:"ttl"`            // Cache TTL duration (ex: "5m", "1h")
	MaxLocalSize  int           `mapstructure:"max_local_size"` // Maximum number of key sets kept in process
	DynamoDBTable string        `mapstructure:"dynamodb_table"` // DynamoDB table name (if using DynamoDB cache)
	S3Bucket      string        `mapstructure:"s3_bucket"`      // S3 bucket name (if using S3 cache)
	S3Prefix      string        `mapstructure:"s3_prefix"`      // S3 prefix (if using S3 cache)
}

type Config struct {
	Issuer    string        `mapstructure:"issuer"`    // Issuer is set as "iss" when a token has none
	Audiences []string      `mapstructure:"audiences"` // Audiences are set as "aud" when a token has none
	Lifespan  time.Duration `mapstructure:"lifespan"`  // Lifespan is added to "iat" to compute "exp"
	AddJTI    bool          `mapstructure:"add_jti"`   // AddJTI generates a random "jti" when a token has none
	MaxDepth  int           `mapstructure:"max_depth"` // MaxDepth bounds the nesting of claim values

	SignatureAlgorithm         string `mapstructure:"signature_algorithm"`          // JWS "alg" used when none is set
	KeyEncryptionAlgorithm     string `mapstructure:"key_encryption_algorithm"`     // JWE "alg" used when none is set
	ContentEncryptionAlgorithm string `mapstructure:"content_encryption_algorithm"` // JWE "enc" used when none is set

	// Key locations: file path, file:// URL, s3://bucket/key, http(s) URL or inline PEM/JWK
	SignKeyLocation    string `mapstructure:"sign_key_location"`
	SignKeyID          string `mapstructure:"sign_key_id"`
	EncryptKeyLocation string `mapstructure:"encrypt_key_location"`
	EncryptKeyID       string `mapstructure:"encrypt_key_id"`
	VerifyKeyLocation  string `mapstructure:"verify_key_location"`

	S3ConfigBucket string `mapstructure:"s3_config_bucket"` // S3ConfigBucket is the S3 bucket where the configuration file is stored
	S3ConfigPath   string `mapstructure:"s3_config_path"`   // S3ConfigPath is the path to the configuration file in the S3 bucket

	// Logging configuration directly to S3 (duplicates cloudwatch logs)
	LogToS3   bool   `mapstructure:"log_to_s3"`  // LogToS3 is a flag to enable logging to S3
	LogBucket string `mapstructure:"log_bucket"` // LogBucket is the S3 bucket to log to
	LogPrefix string `mapstructure:"log_prefix"` // LogPrefix is the S3 key prefix to log to
	Cache     *Cache `mapstructure:"cache"`      // Cache is the key set cache configuration
}

// NewConfig initializes and returns the configuration. It ensures that the config is loaded only once.
func NewConfig() (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		err = instance.LoadConfig()
	})
	return instance, err
}

// LoadConfig attempts to load configuration from a file or uses default values if not found.
func (c *Config) LoadConfig() error {
	configName := utils.GetEnv("CONFIG_NAME", "config") // Configuration file name without extension
	configPath := utils.GetEnv("CONFIG_PATH", ".")      // Configuration file path, default to current directory

	viper.SetEnvPrefix("jwf") // ex: "JWF_ISSUER"
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.AddConfigPath("/etc/jwt-forge/")
	viper.AddConfigPath(configPath)
	viper.SetConfigName(configName)

	setDefaults(viper.GetViper())

	for _, key := range []string{
		"issuer", "audiences", "lifespan", "add_jti", "max_depth",
		"signature_algorithm", "key_encryption_algorithm", "content_encryption_algorithm",
		"sign_key_location", "sign_key_id", "encrypt_key_location", "encrypt_key_id", "verify_key_location",
		"s3_config_bucket", "s3_config_path",
		"log_to_s3", "log_bucket", "log_prefix",
		"cache.type", "cache.ttl", "cache.max_local_size",
		"cache.dynamodb_table", "cache.s3_bucket", "cache.s3_prefix",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("problem reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lifespan", lifespan)
	v.SetDefault("add_jti", true)
	v.SetDefault("max_depth", maxDepth)
	v.SetDefault("signature_algorithm", signatureAlgorithm)
	v.SetDefault("key_encryption_algorithm", keyEncryptionAlgorithm)
	v.SetDefault("content_encryption_algorithm", contentEncryptionAlgorithm)
	v.SetDefault("cache.type", cacheType)
	v.SetDefault("cache.ttl", cacheTTL)
	v.SetDefault("cache.max_local_size", cacheMaxLocalSize)
}

// Overlay merges a configuration document over c. Keys missing from the document keep
// their current value. format is any viper config type ("json", "yaml", ...).
func (c *Config) Overlay(r io.Reader, format string) error {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return fmt.Errorf("unable to read configuration overlay: %w", err)
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to decode configuration overlay: %w", err)
	}
	return c.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Lifespan <= 0 {
		return errors.New("lifespan must be positive")
	}

	if c.MaxDepth < 1 {
		return errors.New("max_depth must be at least 1")
	}

	if !slices.Contains(SignatureAlgorithms, c.SignatureAlgorithm) {
		return fmt.Errorf("unsupported signature algorithm '%s'", c.SignatureAlgorithm)
	}

	if !slices.Contains(KeyEncryptionAlgorithms, c.KeyEncryptionAlgorithm) {
		return fmt.Errorf("unsupported key encryption algorithm '%s'", c.KeyEncryptionAlgorithm)
	}

	if !slices.Contains(ContentEncryptionAlgorithms, c.ContentEncryptionAlgorithm) {
		return fmt.Errorf("unsupported content encryption algorithm '%s'", c.ContentEncryptionAlgorithm)
	}

	for _, aud := range c.Audiences {
		if strings.TrimSpace(aud) == "" {
			return errors.New("audiences must not contain empty values")
		}
	}

	if c.LogToS3 && c.LogBucket == "" {
		return errors.New("log_bucket is required when log_to_s3 is enabled")
	}

	if (c.S3ConfigBucket == "") != (c.S3ConfigPath == "") {
		return errors.New("s3_config_bucket and s3_config_path must be set together")
	}

	if c.Cache != nil && c.Cache.Type != "" && !slices.Contains(CacheTypes, c.Cache.Type) {
		return fmt.Errorf("unsupported cache type '%s'", c.Cache.Type)
	}

	return nil
}

// HasS3Configuration reports whether a configuration overlay should be read from S3.
func (c *Config) HasS3Configuration() bool {
	return c.S3ConfigBucket != "" && c.S3ConfigPath != ""
}
