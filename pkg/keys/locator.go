// Package keys resolves key locations into JSON Web Key sets.
//
// A location is a file path, a file:// URL, an s3://bucket/key URI, an http(s) URL
// or the key material itself (a PEM block or a JWK / JWK set document).
package keys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/boogy/jwt-forge/pkg/cache"
	"github.com/boogy/jwt-forge/pkg/types"
	"github.com/boogy/jwt-forge/pkg/utils"
	"github.com/go-jose/go-jose/v4"
)

const (
	DefaultMaxKeySize  = 1024 * 1024
	DefaultHTTPTimeout = 5 * time.Second
)

var (
	ErrEmptyLocation = errors.New("key location is empty")
	ErrNoS3Reader    = errors.New("s3 key locations need an S3 reader")
	ErrNoPrivateKey  = errors.New("key has no private material")
)

// S3Reader reads whole objects by s3:// URI. aws.AwsConsumer implements it.
type S3Reader interface {
	ReadS3URI(ctx context.Context, uri string) ([]byte, error)
}

type Option func(*Locator)

// WithS3 enables s3:// locations.
func WithS3(reader S3Reader) Option {
	return func(l *Locator) { l.s3 = reader }
}

// WithHTTPClient replaces the client used for http(s) locations.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Locator) { l.httpClient = client }
}

// WithCache stores remote public key sets in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(l *Locator) {
		l.shared = c
		l.ttl = ttl
	}
}

// Locator reads and parses key sets. Parsed sets are memoized in process; remote
// sets without private material also go to the shared cache.
type Locator struct {
	s3         S3Reader
	httpClient *http.Client
	shared     cache.Cache
	memo       *cache.MemoryCache
	ttl        time.Duration
	maxSize    int64
}

func NewLocator(opts ...Option) *Locator {
	l := &Locator{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		ttl:        cache.Defaults.TTL,
		maxSize:    DefaultMaxKeySize,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.memo = cache.NewMemoryCache(cache.Defaults.MaxLocalSize, l.ttl)
	return l
}

// Read returns the raw bytes a location points at.
func (l *Locator) Read(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, ErrEmptyLocation
	case isInline(location):
		return []byte(location), nil
	case strings.HasPrefix(location, "s3://"):
		if l.s3 == nil {
			return nil, ErrNoS3Reader
		}
		return l.s3.ReadS3URI(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return l.fetch(ctx, location)
	default:
		return l.readFile(strings.TrimPrefix(location, "file://"))
	}
}

func isInline(location string) bool {
	return strings.HasPrefix(location, "-----BEGIN") || strings.HasPrefix(location, "{")
}

func isRemote(location string) bool {
	for _, scheme := range []string{"s3://", "http://", "https://"} {
		if strings.HasPrefix(location, scheme) {
			return true
		}
	}
	return false
}

func (l *Locator) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open key file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("Error closing key file", "path", path, "error", err)
		}
	}()

	return l.readLimited(f, path)
}

func (l *Locator) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid key URL: %w", err)
	}
	req.Header.Set("Accept", "application/jwk-set+json, application/json, application/x-pem-file")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to fetch key set", "url", url, "error", err)
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close key set response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code when fetching key set: %d", resp.StatusCode)
	}

	return l.readLimited(resp.Body, url)
}

func (l *Locator) readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", name, err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, l.maxSize)
	}
	return data, nil
}

// KeySet reads and parses the key set at location.
func (l *Locator) KeySet(ctx context.Context, location string) (*types.JWKS, error) {
	location = strings.TrimSpace(location)
	cacheKey := utils.HashKey("jwks-", location)
	remote := isRemote(location)

	if set, found := l.memo.Get(ctx, cacheKey); found {
		return set, nil
	}
	if remote && l.shared != nil {
		if set, found := l.shared.Get(ctx, cacheKey); found {
			l.memo.Set(ctx, cacheKey, set, l.ttl)
			return set, nil
		}
	}

	data, err := l.Read(ctx, location)
	if err != nil {
		return nil, err
	}

	set, err := ParseKeySet(data)
	if err != nil {
		return nil, err
	}

	l.memo.Set(ctx, cacheKey, set, l.ttl)
	if remote && l.shared != nil && !set.HasPrivate() {
		l.shared.Set(ctx, cacheKey, set, l.ttl)
	}

	return set, nil
}

// SigningKey returns the private or symmetric key to sign with.
func (l *Locator) SigningKey(ctx context.Context, location, kid string) (*jose.JSONWebKey, error) {
	return l.privateKey(ctx, location, kid, types.UseSignature)
}

// DecryptionKey returns the private or symmetric key to decrypt with.
func (l *Locator) DecryptionKey(ctx context.Context, location, kid string) (*jose.JSONWebKey, error) {
	return l.privateKey(ctx, location, kid, types.UseEncryption)
}

// VerificationKey returns the key to verify signatures with, public when asymmetric.
func (l *Locator) VerificationKey(ctx context.Context, location, kid string) (*jose.JSONWebKey, error) {
	return l.publicKey(ctx, location, kid, types.UseSignature)
}

// EncryptionKey returns the key to encrypt content keys with, public when asymmetric.
func (l *Locator) EncryptionKey(ctx context.Context, location, kid string) (*jose.JSONWebKey, error) {
	return l.publicKey(ctx, location, kid, types.UseEncryption)
}

func (l *Locator) privateKey(ctx context.Context, location, kid, use string) (*jose.JSONWebKey, error) {
	set, err := l.KeySet(ctx, location)
	if err != nil {
		return nil, err
	}
	key, err := set.Find(kid, use)
	if err != nil {
		return nil, err
	}
	if key.IsPublic() {
		return nil, fmt.Errorf("%w: %s", ErrNoPrivateKey, describe(key))
	}
	return key, nil
}

func (l *Locator) publicKey(ctx context.Context, location, kid, use string) (*jose.JSONWebKey, error) {
	set, err := l.KeySet(ctx, location)
	if err != nil {
		return nil, err
	}
	key, err := set.Find(kid, use)
	if err != nil {
		return nil, err
	}
	if key.IsPublic() {
		return key, nil
	}
	if _, symmetric := key.Key.([]byte); symmetric {
		return key, nil
	}
	pub := key.Public()
	return &pub, nil
}

func describe(key *jose.JSONWebKey) string {
	if key.KeyID != "" {
		return "kid " + key.KeyID
	}
	return fmt.Sprintf("%T", key.Key)
}

// trimBOM drops a UTF-8 byte order mark some editors prepend.
func trimBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
}
