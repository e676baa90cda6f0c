// Package archive uploads finished run artefacts (dataset CSV, checkpoint log,
// market list) to an S3-compatible object store such as AWS S3, MinIO or R2.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rewired-gh/polycalib/internal/logger"
)

// minPartSize is the smallest multipart chunk S3 accepts (5 MiB)
const minPartSize int64 = 5 * 1024 * 1024

// Uploader is the part of manager.Uploader the archiver uses
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Config describes the target bucket. Leave Endpoint empty for AWS S3.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	PartSize  int64 // bytes
}

// Archiver uploads local files under prefix/runID/
type Archiver struct {
	uploader Uploader
	bucket   string
	prefix   string
}

// New builds an Archiver backed by the S3 multipart upload manager.
// Path-style addressing is used whenever a custom endpoint is set.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	partSize := cfg.PartSize
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	return NewWithUploader(uploader, cfg.Bucket, cfg.Prefix), nil
}

// NewWithUploader builds an Archiver around an existing uploader
func NewWithUploader(uploader Uploader, bucket, prefix string) *Archiver {
	return &Archiver{
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// Key returns the object key for a local file archived under runID
func (a *Archiver) Key(runID, localPath string) string {
	return path.Join(a.prefix, runID, filepath.Base(localPath))
}

// UploadFiles uploads each file and returns the object keys written. It stops
// at the first failure.
func (a *Archiver) UploadFiles(ctx context.Context, runID string, paths ...string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key, err := a.uploadFile(ctx, runID, p)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
		logger.Debug("Archived %s to s3://%s/%s", p, a.bucket, key)
	}
	return keys, nil
}

func (a *Archiver) uploadFile(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := a.Key(runID, localPath)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return key, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".db", ".sqlite", ".sqlite3":
		return "application/vnd.sqlite3"
	default:
		return "application/octet-stream"
	}
}

// normaliseEndpoint prepends https:// to an endpoint given without a scheme
func normaliseEndpoint(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}
