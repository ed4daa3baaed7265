package cortex

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUnsupportedURI is returned for resource URIs the storage cannot address.
var ErrUnsupportedURI = errors.New("unsupported resource URI")

// StorageConfig configures MinioStorage.
type StorageConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	UseSSL     bool
	ColdBucket string

	// ColdPrefix is prepended to archived object keys.
	ColdPrefix string
}

// StorageConfigFromEnv reads CORTEX_STORAGE_* variables.
func StorageConfigFromEnv() (StorageConfig, error) {
	useSSL := false
	if raw := strings.TrimSpace(os.Getenv("CORTEX_STORAGE_USE_SSL")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return StorageConfig{}, fmt.Errorf("CORTEX_STORAGE_USE_SSL: %w", err)
		}
		useSSL = v
	}
	cfg := StorageConfig{
		Endpoint:   envOr("CORTEX_STORAGE_ENDPOINT", "localhost:9000"),
		AccessKey:  os.Getenv("CORTEX_STORAGE_ACCESS_KEY"),
		SecretKey:  os.Getenv("CORTEX_STORAGE_SECRET_KEY"),
		Region:     envOr("CORTEX_STORAGE_REGION", "us-east-1"),
		UseSSL:     useSSL,
		ColdBucket: envOr("CORTEX_STORAGE_COLD_BUCKET", "evidence-cold"),
		ColdPrefix: os.Getenv("CORTEX_STORAGE_COLD_PREFIX"),
	}
	if err := cfg.Validate(); err != nil {
		return StorageConfig{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Validate checks required fields.
func (c StorageConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.ColdBucket) == "" {
		return errors.New("cold bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// objectClient is the subset of *minio.Client used by MinioStorage.
type objectClient interface {
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// MinioStorage implements ObjectStorage against any S3-compatible service.
// Resource URIs take the form s3://bucket/key (minio:// is accepted too).
type MinioStorage struct {
	client     objectClient
	coldBucket string
	coldPrefix string
	region     string
}

// NewMinioStorage connects to the configured endpoint.
func NewMinioStorage(cfg StorageConfig) (*MinioStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return NewMinioStorageWithClient(client, cfg)
}

// NewMinioStorageWithClient wraps an existing client.
func NewMinioStorageWithClient(client *minio.Client, cfg StorageConfig) (*MinioStorage, error) {
	if client == nil {
		return nil, errors.New("object storage client is required")
	}
	return newMinioStorage(client, cfg), nil
}

func newMinioStorage(client objectClient, cfg StorageConfig) *MinioStorage {
	return &MinioStorage{
		client:     client,
		coldBucket: cfg.ColdBucket,
		coldPrefix: cfg.ColdPrefix,
		region:     cfg.Region,
	}
}

// EnsureColdBucket creates the cold bucket if it does not exist.
func (s *MinioStorage) EnsureColdBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.coldBucket)
	if err != nil {
		return fmt.Errorf("cold bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.coldBucket, minio.MakeBucketOptions{Region: s.region})
}

// Delete implements ObjectStorage.
func (s *MinioStorage) Delete(ctx context.Context, uri string) error {
	bucket, key, err := ParseObjectURI(uri)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", uri, err)
	}
	return nil
}

// MoveToCold implements ObjectStorage. The object is copied into the cold
// bucket under <prefix><bucket>/<key> and then removed from its source.
// If the removal fails the cold copy remains and the error is returned.
func (s *MinioStorage) MoveToCold(ctx context.Context, uri string) error {
	bucket, key, err := ParseObjectURI(uri)
	if err != nil {
		return err
	}
	dst := minio.CopyDestOptions{Bucket: s.coldBucket, Object: s.ColdKey(bucket, key)}
	src := minio.CopySrcOptions{Bucket: bucket, Object: key}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("copy %s to cold storage: %w", uri, err)
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s after archive: %w", uri, err)
	}
	return nil
}

// ColdKey returns the archive object key for a source object.
func (s *MinioStorage) ColdKey(bucket, key string) string {
	return s.coldPrefix + bucket + "/" + key
}

// ParseObjectURI splits s3://bucket/key into its bucket and key. The key is
// taken verbatim, so '#', '?' and '%' stay part of it.
func ParseObjectURI(uri string) (bucket, key string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedURI, uri)
	}
	if scheme != "s3" && scheme != "minio" {
		return "", "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURI, scheme)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and key", ErrUnsupportedURI, uri)
	}
	return bucket, key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ ObjectStorage = (*MinioStorage)(nil)
