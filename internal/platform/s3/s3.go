// Package s3 stores objects in an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/storage"
)

// objectAPI is the part of *s3.Client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// uploader is the part of *manager.Uploader the store uses.
type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Store implements storage.Storage on an S3 bucket.
type Store struct {
	client   objectAPI
	uploader uploader
	bucket   string
	baseURL  string
	logger   *slog.Logger
}

// New builds a Store from the storage configuration. A custom endpoint with
// path-style addressing targets MinIO and other S3-compatible services.
func New(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	loadOpts := []func(*awsCfg.LoadOptions) error{
		awsCfg.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsCfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	acfg, err := awsCfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint)
	client := s3.NewFromConfig(acfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newStore(client, manager.NewUploader(client), cfg, endpoint, log), nil
}

func newStore(client objectAPI, up uploader, cfg config.StorageConfig, endpoint string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		client:   client,
		uploader: up,
		bucket:   cfg.Bucket,
		baseURL:  publicBaseURL(cfg, endpoint),
		logger:   log.With("component", "s3_storage", "bucket", cfg.Bucket),
	}
}

func normalizeEndpoint(ep string) string {
	ep = strings.TrimSpace(ep)
	if ep == "" {
		return ""
	}
	if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
		ep = "https://" + ep
	}
	u, err := url.Parse(ep)
	if err != nil {
		return ""
	}
	return u.String()
}

// publicBaseURL picks the CDN when configured, then the custom endpoint,
// then the AWS virtual-hosted bucket URL.
func publicBaseURL(cfg config.StorageConfig, endpoint string) string {
	switch {
	case cfg.CDNBaseURL != "":
		return cfg.CDNBaseURL
	case endpoint != "" && cfg.UsePathStyle:
		return storage.JoinURL(endpoint, cfg.Bucket)
	case endpoint != "":
		return endpoint
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// Upload implements storage.Storage.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = storage.ContentTypeFor(key)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("s3 upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("s3: upload %s: %w", key, err)
	}
	return storage.JoinURL(s.baseURL, key), nil
}

// Download implements storage.Storage.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("s3: get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", key, err)
	}
	return data, nil
}

// Delete implements storage.Storage. S3 deletes of missing keys succeed.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}

var _ storage.Storage = (*Store)(nil)
