package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig selects a bucket and how to reach it.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	// EmulatorHost points the client at a fake-gcs-server instead of Google.
	EmulatorHost string `yaml:"emulator_host" mapstructure:"emulator_host"`
}

// ClientOptions builds the client options for cfg.
func (cfg GCSConfig) ClientOptions() []option.ClientOption {
	if cfg.EmulatorHost != "" {
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/") + "/storage/v1/"
		return []option.ClientOption{option.WithoutAuthentication(), option.WithEndpoint(endpoint)}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// GCS writes documents to a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS connects to Cloud Storage.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	client, err := storage.NewClient(ctx, cfg.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create client: %w", err)
	}
	return NewGCSWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewGCSWithClient wraps an existing client.
func NewGCSWithClient(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Key returns the object key for a destination path.
func (g *GCS) Key(dest string) string {
	return strings.TrimPrefix(path.Join("/", g.prefix, dest), "/")
}

// Put streams r to the object for dir/name.
func (g *GCS) Put(ctx context.Context, dir, name string, r io.Reader) (Object, error) {
	dest, err := cleanDest(dir, name)
	if err != nil {
		return Object{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(g.Key(dest)).NewWriter(ctx)
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.ContentType = ct
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return Object{Path: dest, Name: name, Size: n}, nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}
