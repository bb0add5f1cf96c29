package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader copies a flushed export document to secondary storage
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// ObjectStoreConfig configures the optional S3-compatible export mirror
type ObjectStoreConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	Bucket    string `toml:"bucket" yaml:"bucket"`
	Prefix    string `toml:"prefix" yaml:"prefix"`
	UseSSL    bool   `toml:"use_ssl" yaml:"use_ssl"`
	Region    string `toml:"region" yaml:"region"`
}

// Validate checks that an enabled mirror has what it needs to connect
func (c ObjectStoreConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		missing = append(missing, "access_key")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		missing = append(missing, "secret_key")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("object store: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ObjectStoreMirror uploads export documents to a MinIO/S3 bucket
type ObjectStoreMirror struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewObjectStoreMirror connects to the configured endpoint
func NewObjectStoreMirror(cfg ObjectStoreConfig) (*ObjectStoreMirror, error) {
	if !cfg.Enabled {
		return nil, errors.New("object store mirror is disabled")
	}
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
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &ObjectStoreMirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (m *ObjectStoreMirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("bucket %s exists: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region})
}

// Upload implements Uploader
func (m *ObjectStoreMirror) Upload(ctx context.Context, name string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.ObjectKey(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// ObjectKey returns the key an export file name is stored under
func (m *ObjectStoreMirror) ObjectKey(name string) string {
	prefix := strings.Trim(m.prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
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
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
