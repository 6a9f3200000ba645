package s3logger

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	gtvcfg "github.com/boogy/jwt-forge/pkg/config"
	"github.com/boogy/jwt-forge/pkg/version"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout is the default timeout for S3 operations
	DefaultTimeout = 10 * time.Second

	// DefaultBatchSize is the default number of log lines to batch before writing to S3
	DefaultBatchSize = 50

	// DefaultMaxBatchWait is the default maximum time to wait before writing a batch
	DefaultMaxBatchWait = 30 * time.Second
)

// LoggerInterface is what the handlers need from an S3 log sink.
type LoggerInterface interface {
	Write(p []byte) (int, error)
	Record(ctx context.Context, rec IssuanceRecord) error
	Flush(ctx context.Context) error
	Close() error
}

// S3API is the subset of the S3 client used by this package.
type S3API interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// IssuanceRecord is the audit entry written for every token the service hands out.
// Claim values are never recorded, only their digest.
type IssuanceRecord struct {
	TokenID      string    `json:"jti,omitempty"`
	Subject      string    `json:"sub,omitempty"`
	Format       string    `json:"format"`
	KeyID        string    `json:"kid,omitempty"`
	Algorithm    string    `json:"alg,omitempty"`
	ClaimsDigest string    `json:"claimsDigest"`
	IssuedAt     time.Time `json:"issuedAt"`
	RequestID    string    `json:"requestId,omitempty"`
}

// Settings holds the S3 layout and batching parameters.
type Settings struct {
	Bucket string
	Prefix string

	Timeout     time.Duration
	BatchSize   int
	MaxBatchAge time.Duration

	IncludeUUID   bool
	FileExtension string
	ExtraTags     map[string]string
}

// Option customizes an S3Logger.
type Option func(*S3Logger)

// WithClient replaces the S3 client.
func WithClient(client S3API) Option {
	return func(l *S3Logger) { l.client = client }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *S3Logger) { l.timeNow = now }
}

// WithBatchSize sets the number of lines buffered before an upload.
func WithBatchSize(size int) Option {
	return func(l *S3Logger) {
		if size > 0 {
			l.settings.BatchSize = size
		}
	}
}

// WithMaxBatchAge sets how long lines may wait before they are uploaded.
func WithMaxBatchAge(age time.Duration) Option {
	return func(l *S3Logger) {
		if age > 0 {
			l.settings.MaxBatchAge = age
		}
	}
}

// WithIncludeUUID toggles the random component of object keys.
func WithIncludeUUID(include bool) Option {
	return func(l *S3Logger) { l.settings.IncludeUUID = include }
}

// WithExtraTag adds an object tag to every upload.
func WithExtraTag(key, value string) Option {
	return func(l *S3Logger) {
		if l.settings.ExtraTags == nil {
			l.settings.ExtraTags = make(map[string]string)
		}
		l.settings.ExtraTags[key] = value
	}
}

// S3Logger batches log lines and issuance records into gzipped JSON-lines objects on S3.
// It is an io.Writer so it can sit behind a slog handler.
type S3Logger struct {
	enabled  bool
	settings Settings
	client   S3API
	timeNow  func() time.Time

	mu     sync.Mutex
	batch  [][]byte
	timer  *time.Timer
	closed bool
}

// NewS3Logger creates a logger for cfg. When cfg.LogToS3 is off every method is a no-op.
func NewS3Logger(cfg *gtvcfg.Config, awsCfg aws.Config, opts ...Option) *S3Logger {
	l := &S3Logger{
		enabled: cfg.LogToS3 && cfg.LogBucket != "",
		timeNow: time.Now,
		settings: Settings{
			Bucket:        cfg.LogBucket,
			Prefix:        cfg.LogPrefix,
			Timeout:       DefaultTimeout,
			BatchSize:     DefaultBatchSize,
			MaxBatchAge:   DefaultMaxBatchWait,
			IncludeUUID:   true,
			FileExtension: ".jsonl.gz",
		},
	}

	for _, opt := range opts {
		opt(l)
	}

	if !l.enabled {
		return l
	}

	if l.client == nil {
		l.client = s3.NewFromConfig(awsCfg)
	}

	l.timer = time.AfterFunc(l.settings.MaxBatchAge, l.tick)
	slog.Debug("S3 logger enabled",
		slog.String("bucket", l.settings.Bucket),
		slog.String("prefix", l.settings.Prefix))

	return l
}

// Enabled reports whether anything will be written to S3.
func (l *S3Logger) Enabled() bool {
	return l.enabled
}

// Settings returns a copy of the effective settings.
func (l *S3Logger) Settings() Settings {
	s := l.settings
	s.ExtraTags = maps.Clone(l.settings.ExtraTags)
	return s
}

func (l *S3Logger) tick() {
	if err := l.Flush(context.Background()); err != nil {
		slog.Error("Failed to flush log batch on timer", slog.String("error", err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.timer.Reset(l.settings.MaxBatchAge)
	}
}

// Write buffers one log line. The upload happens once the batch is full.
func (l *S3Logger) Write(p []byte) (int, error) {
	if !l.enabled || len(p) == 0 {
		return len(p), nil
	}

	line := bytes.Clone(p)

	l.mu.Lock()
	l.batch = append(l.batch, line)
	var pending [][]byte
	if len(l.batch) >= l.settings.BatchSize {
		pending = l.take()
	}
	l.mu.Unlock()

	if pending != nil {
		if err := l.upload(context.Background(), pending); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Record writes an issuance record immediately, outside the batch.
func (l *S3Logger) Record(ctx context.Context, rec IssuanceRecord) error {
	if !l.enabled {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode issuance record: %w", err)
	}
	return l.upload(ctx, [][]byte{line})
}

// Flush uploads whatever is buffered.
func (l *S3Logger) Flush(ctx context.Context) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	pending := l.take()
	l.mu.Unlock()

	if pending == nil {
		return nil
	}
	return l.upload(ctx, pending)
}

// Close stops the batch timer and flushes any remaining lines.
func (l *S3Logger) Close() error {
	l.mu.Lock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()

	return l.Flush(context.Background())
}

// take detaches the current batch. Caller must hold mu.
func (l *S3Logger) take() [][]byte {
	if len(l.batch) == 0 {
		return nil
	}
	pending := l.batch
	l.batch = nil
	return pending
}

// upload runs without mu held: it logs through slog, which may call Write.
func (l *S3Logger) upload(ctx context.Context, lines [][]byte) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		if !bytes.HasSuffix(line, []byte("\n")) {
			buf.WriteByte('\n')
		}
	}

	compressed, err := compressGzip(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to compress log data: %w", err)
	}

	return l.WriteObject(ctx, l.ObjectKey(), compressed)
}

// ObjectKey builds <prefix>/<yyyy>/<mm>/<dd>/[<uuid>-]<yyyymmdd-hhmmss><ext>.
func (l *S3Logger) ObjectKey() string {
	now := l.timeNow().UTC()

	var parts []string
	if prefix := strings.Trim(l.settings.Prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, now.Format("2006/01/02"))

	filename := now.Format("20060102-150405")
	if l.settings.IncludeUUID {
		filename = uuid.New().String() + "-" + filename
	}

	parts = append(parts, filename+l.settings.FileExtension)
	return strings.Join(parts, "/")
}

// WriteObject puts one gzipped object into the log bucket.
func (l *S3Logger) WriteObject(ctx context.Context, key string, body []byte) error {
	if l.client == nil {
		return errors.New("S3 client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, l.settings.Timeout)
	defer cancel()

	metadata := map[string]string{
		"source":     version.BinName,
		"created-at": l.timeNow().UTC().Format(time.RFC3339),
	}
	maps.Copy(metadata, l.settings.ExtraTags)

	tags := url.Values{}
	for k, v := range metadata {
		tags.Set(k, v)
	}

	_, err := l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(l.settings.Bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(body),
		ContentType:       aws.String("application/x-ndjson"),
		ContentEncoding:   aws.String("gzip"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		Tagging:           aws.String(tags.Encode()),
		Metadata:          metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to write logs to S3: %w", err)
	}

	slog.Debug("Successfully wrote logs to S3",
		slog.String("bucket", l.settings.Bucket),
		slog.String("key", key),
		slog.Int("bytes", len(body)))

	return nil
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)

	if _, err := gzWriter.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}

	if err := gzWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}
