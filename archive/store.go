package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// Config holds the S3 settings for the output archive.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Archiver stores embedded outputs.
type Archiver interface {
	Put(ctx context.Context, data []byte, at time.Time, meta map[string]string) (string, error)
}

// objectPutter is the part of *minio.Client the store needs.
type objectPutter interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store uploads JPEGs to an S3-compatible bucket under content-addressed keys.
type Store struct {
	client objectPutter
	cfg    Config
}

// New connects to the endpoint and checks that the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket name is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("archive access key and secret key are required")
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}
	return newStore(ctx, client, cfg)
}

func newStore(ctx context.Context, client objectPutter, cfg Config) (*Store, error) {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check archive bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("archive bucket %s does not exist", cfg.Bucket)
	}

	logrus.WithFields(logrus.Fields{"endpoint": cfg.Endpoint, "bucket": cfg.Bucket}).Info("archive connected")
	return &Store{client: client, cfg: cfg}, nil
}

// Key returns <prefix>/<yyyy>/<mm>/<sha256>.jpg for data.
func (s *Store) Key(data []byte, at time.Time) string {
	sum := sha256.Sum256(data)
	name := fmt.Sprintf("%04d/%02d/%s.jpg", at.Year(), int(at.Month()), hex.EncodeToString(sum[:]))

	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Put uploads data and returns its object key.
func (s *Store) Put(ctx context.Context, data []byte, at time.Time, meta map[string]string) (string, error) {
	key := s.Key(data, at)

	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "image/jpeg",
		UserMetadata: cleanMetadata(meta),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{"key": key, "bytes": info.Size, "etag": info.ETag}).Debug("archived output")
	return key, nil
}

// cleanMetadata drops empty values and non-ASCII characters, which S3 headers cannot carry.
func cleanMetadata(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		v = strings.Map(func(r rune) rune {
			if r < 0x20 || r > 0x7E {
				return -1
			}
			return r
		}, v)
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}
