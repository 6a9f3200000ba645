package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/boogy/jwt-forge/pkg/types"
)

// S3API is the subset of the S3 client used by S3Cache.
type S3API interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3CacheItem wraps the key set with metadata for caching
type s3CacheItem struct {
	Value      *types.JWKS `json:"value"`
	Expiration time.Time   `json:"expiration"`
	CreatedAt  time.Time   `json:"created_at"`
}

// S3Cache persists public key sets as JSON objects under bucket/prefix.
type S3Cache struct {
	client S3API
	bucket string
	prefix string
	local  *localLRU
}

func NewS3Cache(client S3API, bucket, prefix string, maxLocalSize int, defaultTTL time.Duration) *S3Cache {
	return &S3Cache{
		client: client,
		bucket: bucket,
		prefix: prefix,
		local:  newLocalLRU(maxLocalSize, defaultTTL),
	}
}

func (c *S3Cache) Get(ctx context.Context, key string) (*types.JWKS, bool) {
	if value, found := c.local.get(key); found {
		slog.Debug("Local memory cache hit", "key", key)
		return value, true
	}

	item, found := c.getFromS3(ctx, key)
	if !found {
		return nil, false
	}

	c.local.set(key, item.Value, item.Expiration)
	return item.Value, true
}

func (c *S3Cache) getFromS3(ctx context.Context, key string) (*s3CacheItem, bool) {
	objectKey := c.objectKey(key)

	ctx, cancel := context.WithTimeout(ctx, Defaults.Timeout)
	defer cancel()

	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", Defaults.MaxItemSize)),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			slog.Debug("Cache miss in S3", "key", key)
			return nil, false
		}
		slog.Error("Failed to get object from S3", "key", key, "error", err)
		return nil, false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Error closing S3 response body", "error", err)
		}
	}()

	if resp.ContentLength != nil && *resp.ContentLength > Defaults.MaxItemSize {
		slog.Warn("S3 cache item exceeds maximum allowed size",
			"key", key,
			"size", *resp.ContentLength,
			"maxAllowed", Defaults.MaxItemSize)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, Defaults.MaxItemSize))
	if err != nil {
		slog.Error("Failed to read S3 object body", "key", key, "error", err)
		return nil, false
	}

	var item s3CacheItem
	if err := json.Unmarshal(body, &item); err != nil || item.Value == nil {
		slog.Error("Failed to decode S3 cache item", "key", key, "error", err)
		return nil, false
	}

	if c.local.now().After(item.Expiration) {
		slog.Debug("S3 cache entry expired", "key", key)
		c.deleteObject(ctx, objectKey)
		return nil, false
	}

	slog.Debug("S3 cache hit", "key", key)
	return &item, true
}

// Set keeps the full set locally and writes its public projection to S3.
func (c *S3Cache) Set(ctx context.Context, key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.local.defaultTTL
	}

	now := c.local.now()
	c.local.set(key, value, now.Add(ttl))

	item := s3CacheItem{
		Value:      value.Public(),
		Expiration: now.Add(ttl),
		CreatedAt:  now,
	}
	if len(item.Value.Keys) == 0 {
		slog.Debug("Key set has no public keys, not persisting", "key", key)
		return
	}

	data, err := json.Marshal(item)
	if err != nil {
		slog.Error("Failed to marshal cache item", "key", key, "error", err)
		return
	}

	if int64(len(data)) > Defaults.MaxItemSize {
		slog.Error("Cache item too large to store in S3",
			"key", key,
			"size", len(data),
			"maxAllowed", Defaults.MaxItemSize)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, Defaults.Timeout)
	defer cancel()

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"Expiration": item.Expiration.Format(time.RFC3339),
			"CreatedAt":  item.CreatedAt.Format(time.RFC3339),
			"Size":       strconv.Itoa(len(data)),
		},
	})
	if err != nil {
		slog.Error("Failed to put object in S3", "key", key, "error", err)
		return
	}

	slog.Debug("Cached value in S3", "key", key, "ttl", ttl, "size", len(data))
}

func (c *S3Cache) objectKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return path.Join(c.prefix, key)
}

func (c *S3Cache) deleteObject(ctx context.Context, objectKey string) {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		slog.Error("Failed to delete expired object from S3", "key", objectKey, "error", err)
		return
	}
	slog.Debug("Deleted expired object from S3", "key", objectKey)
}
