package cache

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/boogy/jwt-forge/pkg/config"
	"github.com/boogy/jwt-forge/pkg/types"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3API struct {
	mock.Mock
}

func (m *MockS3API) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *MockS3API) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3API) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

type MockDynamoDBAPI struct {
	mock.Mock
}

func (m *MockDynamoDBAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *MockDynamoDBAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

// privateSet returns a one-key EC signing set holding the private key.
func privateSet(t *testing.T, kid string) *types.JWKS {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &types.JWKS{Keys: []jose.JSONWebKey{{
		Key:       key,
		KeyID:     kid,
		Algorithm: "ES256",
		Use:       types.UseSignature,
	}}}
}

func fixedClock(c *localLRU, now *time.Time) {
	c.now = func() time.Time { return *now }
}

func TestNewCache(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		want    any
		wantErr string
	}{
		{name: "nil config", cfg: nil, want: &MemoryCache{}},
		{name: "no cache section", cfg: &config.Config{}, want: &MemoryCache{}},
		{name: "memory", cfg: &config.Config{Cache: &config.Cache{Type: "memory"}}, want: &MemoryCache{}},
		{name: "s3", cfg: &config.Config{Cache: &config.Cache{Type: "s3", S3Bucket: "b"}}, want: &S3Cache{}},
		{name: "s3 without bucket", cfg: &config.Config{Cache: &config.Cache{Type: "s3"}}, wantErr: "s3_bucket is required"},
		{name: "dynamodb", cfg: &config.Config{Cache: &config.Cache{Type: "dynamodb", DynamoDBTable: "t"}}, want: &DynamoDBCache{}},
		{name: "dynamodb without table", cfg: &config.Config{Cache: &config.Cache{Type: "dynamodb"}}, wantErr: "dynamodb_table is required"},
		{name: "unknown", cfg: &config.Config{Cache: &config.Cache{Type: "redis"}}, wantErr: "unsupported cache type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCache(tt.cfg, aws.Config{Region: "us-east-1"})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestConfiguredValues(t *testing.T) {
	assert.Equal(t, Defaults.TTL, GetConfiguredTTL(nil))
	assert.Equal(t, Defaults.MaxLocalSize, GetConfiguredMaxLocalSize(&config.Config{}))

	cfg := &config.Config{Cache: &config.Cache{TTL: 5 * time.Minute, MaxLocalSize: 3}}
	assert.Equal(t, 5*time.Minute, GetConfiguredTTL(cfg))
	assert.Equal(t, 3, GetConfiguredMaxLocalSize(cfg))
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(2, time.Minute)
	fixedClock(c.local, &now)

	a, b, d := &types.JWKS{}, &types.JWKS{}, &types.JWKS{}

	_, found := c.Get(ctx, "a")
	assert.False(t, found)

	c.Set(ctx, "a", a, 0)
	c.Set(ctx, "b", b, 10*time.Second)

	got, found := c.Get(ctx, "a")
	require.True(t, found)
	assert.Same(t, a, got)

	t.Run("evicts least recently used", func(t *testing.T) {
		now = now.Add(time.Second)
		_, _ = c.Get(ctx, "a")
		c.Set(ctx, "d", d, 0)

		assert.Equal(t, 2, c.Len())
		_, found := c.Get(ctx, "b")
		assert.False(t, found)
		_, found = c.Get(ctx, "a")
		assert.True(t, found)
	})

	t.Run("expires", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		_, found := c.Get(ctx, "a")
		assert.False(t, found)
		c.Cleanup()
		assert.Equal(t, 0, c.Len())
	})
}

func TestS3Cache_SetStoresPublicProjection(t *testing.T) {
	ctx := context.Background()
	client := new(MockS3API)
	c := NewS3Cache(client, "cache-bucket", "jwks", 5, time.Hour)

	set := privateSet(t, "k1")

	var stored s3CacheItem
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "cache-bucket" && *in.Key == "jwks/abc"
	})).Run(func(args mock.Arguments) {
		body, err := io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &stored))
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	c.Set(ctx, "abc", set, 0)

	require.NotNil(t, stored.Value)
	require.Len(t, stored.Value.Keys, 1)
	assert.True(t, stored.Value.Keys[0].IsPublic())
	assert.Equal(t, "k1", stored.Value.Keys[0].KeyID)

	// the local layer keeps the private set
	got, found := c.Get(ctx, "abc")
	require.True(t, found)
	assert.Same(t, set, got)
	assert.True(t, got.HasPrivate())

	client.AssertExpectations(t)
}

func TestS3Cache_SymmetricSetIsNotPersisted(t *testing.T) {
	client := new(MockS3API)
	c := NewS3Cache(client, "cache-bucket", "", 5, time.Hour)

	c.Set(context.Background(), "hmac", &types.JWKS{Keys: []jose.JSONWebKey{{Key: []byte("secret"), KeyID: "h"}}}, 0)

	client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestS3Cache_Get(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	public := privateSet(t, "k1").Public()

	item := func(exp time.Time) *s3.GetObjectOutput {
		data, err := json.Marshal(s3CacheItem{Value: public, Expiration: exp, CreatedAt: now})
		require.NoError(t, err)
		return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}
	}

	t.Run("hit is promoted to the local layer", func(t *testing.T) {
		client := new(MockS3API)
		c := NewS3Cache(client, "b", "p", 5, time.Hour)
		fixedClock(c.local, &now)

		client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
			return *in.Key == "p/k"
		})).Return(item(now.Add(time.Hour)), nil).Once()

		got, found := c.Get(ctx, "k")
		require.True(t, found)
		assert.Equal(t, "k1", got.Keys[0].KeyID)

		_, found = c.Get(ctx, "k")
		assert.True(t, found)
		client.AssertExpectations(t)
	})

	t.Run("expired object is deleted", func(t *testing.T) {
		client := new(MockS3API)
		c := NewS3Cache(client, "b", "p", 5, time.Hour)
		fixedClock(c.local, &now)

		client.On("GetObject", mock.Anything, mock.Anything).Return(item(now.Add(-time.Minute)), nil).Once()
		client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
			return *in.Key == "p/k"
		})).Return(&s3.DeleteObjectOutput{}, nil).Once()

		_, found := c.Get(ctx, "k")
		assert.False(t, found)
		client.AssertExpectations(t)
	})

	t.Run("missing key", func(t *testing.T) {
		client := new(MockS3API)
		c := NewS3Cache(client, "b", "", 5, time.Hour)
		client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &s3types.NoSuchKey{}).Once()

		_, found := c.Get(ctx, "k")
		assert.False(t, found)
	})

	t.Run("garbage body", func(t *testing.T) {
		client := new(MockS3API)
		c := NewS3Cache(client, "b", "", 5, time.Hour)
		client.On("GetObject", mock.Anything, mock.Anything).
			Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("{not json")))}, nil).Once()

		_, found := c.Get(ctx, "k")
		assert.False(t, found)
	})
}

func TestDynamoDBCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("set writes public projection with ttl", func(t *testing.T) {
		client := new(MockDynamoDBAPI)
		c := NewDynamoDBCache(client, "jwks-cache", 5, time.Hour)
		fixedClock(c.local, &now)

		client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			value, ok := in.Item["Value"].(*ddbtypes.AttributeValueMemberS)
			if !ok {
				return false
			}
			var set types.JWKS
			if err := json.Unmarshal([]byte(value.Value), &set); err != nil {
				return false
			}
			ttl := in.Item["TTL"].(*ddbtypes.AttributeValueMemberN)
			return *in.TableName == "jwks-cache" &&
				!set.HasPrivate() && len(set.Keys) == 1 &&
				ttl.Value == "1735693200"
		})).Return(&dynamodb.PutItemOutput{}, nil).Once()

		c.Set(ctx, "k", privateSet(t, "k1"), 0)
		client.AssertExpectations(t)
	})

	t.Run("get from table", func(t *testing.T) {
		client := new(MockDynamoDBAPI)
		c := NewDynamoDBCache(client, "jwks-cache", 5, time.Hour)
		fixedClock(c.local, &now)

		data, err := json.Marshal(privateSet(t, "k2").Public())
		require.NoError(t, err)

		client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: map[string]ddbtypes.AttributeValue{
				"Key":        &ddbtypes.AttributeValueMemberS{Value: "k"},
				"Value":      &ddbtypes.AttributeValueMemberS{Value: string(data)},
				"Expiration": &ddbtypes.AttributeValueMemberS{Value: now.Add(time.Hour).Format(time.RFC3339)},
			},
		}, nil).Once()

		got, found := c.Get(ctx, "k")
		require.True(t, found)
		assert.Equal(t, "k2", got.Keys[0].KeyID)

		// second read is served locally
		_, found = c.Get(ctx, "k")
		assert.True(t, found)
		client.AssertExpectations(t)
	})

	t.Run("expired item", func(t *testing.T) {
		client := new(MockDynamoDBAPI)
		c := NewDynamoDBCache(client, "jwks-cache", 5, time.Hour)
		fixedClock(c.local, &now)

		client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: map[string]ddbtypes.AttributeValue{
				"Value":      &ddbtypes.AttributeValueMemberS{Value: `{"keys":[]}`},
				"Expiration": &ddbtypes.AttributeValueMemberS{Value: now.Add(-time.Second).Format(time.RFC3339)},
			},
		}, nil).Once()

		_, found := c.Get(ctx, "k")
		assert.False(t, found)
	})

	t.Run("errors are misses", func(t *testing.T) {
		client := new(MockDynamoDBAPI)
		c := NewDynamoDBCache(client, "jwks-cache", 5, time.Hour)

		client.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()
		_, found := c.Get(ctx, "k")
		assert.False(t, found)

		client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()
		_, found = c.Get(ctx, "k")
		assert.False(t, found)

		client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: map[string]ddbtypes.AttributeValue{"Value": &ddbtypes.AttributeValueMemberN{Value: "1"}},
		}, nil).Once()
		_, found = c.Get(ctx, "k")
		assert.False(t, found)

		client.AssertExpectations(t)
	})
}
