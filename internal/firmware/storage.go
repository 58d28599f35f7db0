package firmware

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/otabridge/pkg/options"
)

// ObjectStore reads index files and signs image URLs in one bucket.
type ObjectStore struct {
	client     *minio.Client
	bucketName string
	urlExpiry  time.Duration
}

// NewObjectStore creates an S3 client for the configured bucket.
func NewObjectStore(opts *options.S3Options) (*ObjectStore, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.UseSSL && opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &ObjectStore{
		client:     client,
		bucketName: opts.BucketName,
		urlExpiry:  opts.URLExpiry,
	}, nil
}

// CheckBucket verifies that the bucket exists.
func (s *ObjectStore) CheckBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucketName)
	}
	return nil
}

// Get reads a whole object.
func (s *ObjectStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", objectKey, err)
	}
	return data, nil
}

// PresignedURL returns a temporary download link for objectKey.
func (s *ObjectStore) PresignedURL(ctx context.Context, objectKey string) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-type", "application/octet-stream")

	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey, s.urlExpiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}

	return presignedURL.String(), nil
}
