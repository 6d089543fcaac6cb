// Package objectstore is the offline batch pipeline's unified local-or-S3
// storage layer. Grounded on smartramana-developer-mesh's
// internal/storage/s3.go S3Client (uploader/downloader wiring) and the
// original Python's batch_service.py UnifiedDataLoader/
// UnifiedOutputWriter, which dispatch on an "s3://" URL prefix between a
// boto3 client and plain os.Open/os.Create.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store reads and writes objects addressed by a bucket-relative key (S3
// backend) or a filesystem path (local backend).
type Store interface {
	// List returns every object key under prefix whose name matches suffix.
	List(ctx context.Context, prefix, suffix string) ([]string, error)
	// Get reads an object fully into memory.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data to key, creating parent directories as needed.
	Put(ctx context.Context, key string, data []byte) error
}

// Open returns a Store for uri: "s3://bucket/prefix" selects the S3
// backend, anything else is treated as a local directory.
func Open(ctx context.Context, uri string) (Store, error) {
	if strings.HasPrefix(uri, "s3://") {
		return newS3Store(ctx, uri)
	}
	return newLocalStore(uri)
}

// --- local ---

type localStore struct {
	root string
}

func newLocalStore(root string) (Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create local root %s: %w", root, err)
	}
	return &localStore{root: root}, nil
}

func (s *localStore) List(_ context.Context, prefix, suffix string) ([]string, error) {
	var keys []string
	root := filepath.Join(s.root, prefix)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if suffix == "" || strings.HasSuffix(path, suffix) {
			rel, relErr := filepath.Rel(s.root, path)
			if relErr != nil {
				return relErr
			}
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return keys, nil
}

func (s *localStore) Get(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, key))
}

func (s *localStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// --- S3 ---

type s3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

func newS3Store(ctx context.Context, uri string) (Store, error) {
	bucket, prefix, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &s3Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     prefix,
	}, nil
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("objectstore: invalid S3 URI %q", uri)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, nil
}

func (s *s3Store) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	fullPrefix := joinKey(s.prefix, prefix)
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("objectstore: list s3://%s/%s: %w", s.bucket, fullPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if suffix == "" || strings.HasSuffix(key, suffix) {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: download s3://%s/%s: %w", s.bucket, key, err)
	}
	return buf.Bytes(), nil
}

func (s *s3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("objectstore: upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func joinKey(a, b string) string {
	a = strings.Trim(a, "/")
	b = strings.Trim(b, "/")
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "/" + b
	}
}
