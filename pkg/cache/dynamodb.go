package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/boogy/jwt-forge/pkg/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBCache.
type DynamoDBAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDBCache persists public key sets in a table keyed by the "Key" attribute.
// The "TTL" attribute is suitable for DynamoDB native expiry.
type DynamoDBCache struct {
	client DynamoDBAPI
	table  string
	local  *localLRU
}

func NewDynamoDBCache(client DynamoDBAPI, table string, maxLocalSize int, defaultTTL time.Duration) *DynamoDBCache {
	return &DynamoDBCache{
		client: client,
		table:  table,
		local:  newLocalLRU(maxLocalSize, defaultTTL),
	}
}

func (c *DynamoDBCache) Get(ctx context.Context, key string) (*types.JWKS, bool) {
	if value, found := c.local.get(key); found {
		slog.Debug("Local memory cache hit", "key", key)
		return value, true
	}

	value, expiration, found := c.getFromDynamoDB(ctx, key)
	if !found {
		return nil, false
	}

	c.local.set(key, value, expiration)
	return value, true
}

func (c *DynamoDBCache) getFromDynamoDB(ctx context.Context, key string) (*types.JWKS, time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, Defaults.Timeout)
	defer cancel()

	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key: map[string]ddbtypes.AttributeValue{
			"Key": &ddbtypes.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		slog.Error("Failed to get item from DynamoDB",
			"key", key,
			"error", err.Error(),
			"table", c.table)
		return nil, time.Time{}, false
	}

	if result.Item == nil {
		slog.Debug("Cache miss in DynamoDB", "key", key)
		return nil, time.Time{}, false
	}

	valueAttr, ok := result.Item["Value"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		slog.Error("Invalid item format in DynamoDB - missing Value attribute", "key", key)
		return nil, time.Time{}, false
	}

	if len(valueAttr.Value) > int(Defaults.DynamoDBMaxItemSize) {
		slog.Warn("DynamoDB cache item exceeds maximum allowed size",
			"key", key,
			"size", len(valueAttr.Value),
			"maxAllowed", Defaults.DynamoDBMaxItemSize)
		return nil, time.Time{}, false
	}

	// native TTL deletion lags, so expiry is checked here too
	var expiration time.Time
	if expAttr, ok := result.Item["Expiration"].(*ddbtypes.AttributeValueMemberS); ok {
		if exp, err := time.Parse(time.RFC3339, expAttr.Value); err == nil {
			if c.local.now().After(exp) {
				slog.Debug("DynamoDB cache entry expired", "key", key)
				return nil, time.Time{}, false
			}
			expiration = exp
		}
	}

	var jwks types.JWKS
	if err := json.Unmarshal([]byte(valueAttr.Value), &jwks); err != nil {
		slog.Error("Failed to unmarshal key set from DynamoDB",
			"key", key,
			"error", err.Error())
		return nil, time.Time{}, false
	}

	slog.Debug("DynamoDB cache hit", "key", key)
	return &jwks, expiration, true
}

// Set keeps the full set locally and writes its public projection to DynamoDB.
func (c *DynamoDBCache) Set(ctx context.Context, key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.local.defaultTTL
	}

	now := c.local.now()
	expiration := now.Add(ttl)
	c.local.set(key, value, expiration)

	public := value.Public()
	if len(public.Keys) == 0 {
		slog.Debug("Key set has no public keys, not persisting", "key", key)
		return
	}

	valueJSON, err := json.Marshal(public)
	if err != nil {
		slog.Error("Failed to marshal key set", "key", key, "error", err.Error())
		return
	}

	if len(valueJSON) > int(Defaults.DynamoDBMaxItemSize) {
		slog.Error("Cache item too large to store in DynamoDB",
			"key", key,
			"size", len(valueJSON),
			"maxAllowed", Defaults.DynamoDBMaxItemSize)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, Defaults.Timeout)
	defer cancel()

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]ddbtypes.AttributeValue{
			"Key":        &ddbtypes.AttributeValueMemberS{Value: key},
			"Value":      &ddbtypes.AttributeValueMemberS{Value: string(valueJSON)},
			"Expiration": &ddbtypes.AttributeValueMemberS{Value: expiration.Format(time.RFC3339)},
			"TTL":        &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expiration.Unix(), 10)},
			"CreatedAt":  &ddbtypes.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"Size":       &ddbtypes.AttributeValueMemberN{Value: strconv.Itoa(len(valueJSON))},
		},
	})
	if err != nil {
		slog.Error("Failed to set item in DynamoDB",
			"key", key,
			"error", err.Error(),
			"table", c.table)
		return
	}

	slog.Debug("Cached value in DynamoDB", "key", key, "ttl", ttl, "size", len(valueJSON))
}
