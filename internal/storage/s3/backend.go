// Package s3 provides an S3-compatible object store backend with metrics.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
	"github.com/fruitsalade/mediafs/internal/retry"
	"github.com/fruitsalade/mediafs/internal/storage"
)

// maxDeleteKeys is the DeleteObjects per-request limit.
const maxDeleteKeys = 1000

// BackendConfig holds S3 connection settings.
type BackendConfig struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

// S3Backend implements storage.Backend using S3/MinIO.
type S3Backend struct {
	client *s3.Client
	bucket string
	retry  retry.Config
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*S3Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	backend := &S3Backend{
		client: client,
		bucket: cfg.Bucket,
		retry:  retry.DefaultConfig(),
	}

	if err := backend.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return backend, nil
}

func (b *S3Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(b.bucket),
		})
		if createErr != nil {
			metrics.RecordStoreOperation("s3", "create_bucket", time.Since(start), false)
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
		}
		metrics.RecordStoreOperation("s3", "create_bucket", time.Since(start), true)
		logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	}
	return nil
}

// Put uploads content with If-None-Match so an existing key is never replaced.
func (b *S3Backend) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		IfNoneMatch:   aws.String("*"),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := b.client.PutObject(ctx, input)
	if err != nil {
		metrics.RecordStoreOperation("s3", "put_object", time.Since(start), false)
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("put object %s: %w", key, storage.ErrAlreadyExists)
		}
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordStoreOperation("s3", "put_object", time.Since(start), true)
	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size))
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

// ListChildren lists one level under prefix using the "/" delimiter.
// Common prefixes become containers.
func (b *S3Backend) ListChildren(ctx context.Context, prefix string) ([]storage.Object, error) {
	start := time.Now()

	objs, err := retry.DoWithResult(ctx, b.retry, func() ([]storage.Object, error) {
		return b.listOnce(ctx, prefix)
	})
	if err != nil {
		metrics.RecordStoreOperation("s3", "list_objects", time.Since(start), false)
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	metrics.RecordStoreOperation("s3", "list_objects", time.Since(start), true)
	logging.Debug("S3 list objects", zap.String("prefix", prefix), zap.Int("count", len(objs)))
	return objs, nil
}

func (b *S3Backend) listOnce(ctx context.Context, prefix string) ([]storage.Object, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(storage.Delimiter),
	})

	var objs []storage.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isTransient(err) {
				return nil, retry.Retryable(err)
			}
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), storage.Delimiter)
			if name == "" {
				continue
			}
			objs = append(objs, storage.Object{Name: name, IsContainer: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// The prefix itself stored as a zero-byte "directory" object.
				continue
			}
			modified := aws.ToTime(obj.LastModified)
			objs = append(objs, storage.Object{
				Name:      name,
				Size:      aws.ToInt64(obj.Size),
				MimeType:  mime.TypeByExtension(path.Ext(name)),
				CreatedAt: modified,
				UpdatedAt: modified,
			})
		}
	}
	return objs, nil
}

// DeleteMany removes keys in DeleteObjects batches and reports the keys S3
// refused. A request-level failure on the first batch is returned as an error;
// later request failures mark the whole batch as failed.
func (b *S3Backend) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	var failed []string

	for i := 0; i < len(keys); i += maxDeleteKeys {
		end := min(i+maxDeleteKeys, len(keys))
		chunk := keys[i:end]

		ids := make([]types.ObjectIdentifier, len(chunk))
		for j, key := range chunk {
			ids[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		start := time.Now()
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			metrics.RecordStoreOperation("s3", "delete_objects", time.Since(start), false)
			if i == 0 {
				return nil, fmt.Errorf("delete objects: %w", err)
			}
			logging.Warn("S3 delete batch failed", zap.Int("keys", len(chunk)), zap.Error(err))
			failed = append(failed, chunk...)
			continue
		}

		metrics.RecordStoreOperation("s3", "delete_objects", time.Since(start), len(out.Errors) == 0)
		for _, e := range out.Errors {
			logging.Warn("S3 delete object refused",
				zap.String("key", aws.ToString(e.Key)),
				zap.String("code", aws.ToString(e.Code)),
				zap.String("message", aws.ToString(e.Message)))
			failed = append(failed, aws.ToString(e.Key))
		}
	}

	logging.Debug("S3 delete objects", zap.Int("requested", len(keys)), zap.Int("failed", len(failed)))
	return failed, nil
}

// MoveOne copies oldKey to newKey and deletes the original. S3 has no rename;
// the destination is checked first so an existing object is never replaced.
func (b *S3Backend) MoveOne(ctx context.Context, oldKey, newKey string) error {
	start := time.Now()

	exists, err := b.objectExists(ctx, newKey)
	if err != nil {
		metrics.RecordStoreOperation("s3", "move_object", time.Since(start), false)
		return fmt.Errorf("head %s: %w", newKey, err)
	}
	if exists {
		metrics.RecordStoreOperation("s3", "move_object", time.Since(start), false)
		return fmt.Errorf("move %s -> %s: %w", oldKey, newKey, storage.ErrAlreadyExists)
	}

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(copySource(b.bucket, oldKey)),
	})
	if err != nil {
		metrics.RecordStoreOperation("s3", "move_object", time.Since(start), false)
		if isNotFound(err) {
			return fmt.Errorf("move %s: %w", oldKey, storage.ErrNotFound)
		}
		return fmt.Errorf("copy %s -> %s: %w", oldKey, newKey, err)
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(oldKey),
	})
	if err != nil {
		// Leave the original in place: roll the copy back.
		b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(newKey),
		})
		metrics.RecordStoreOperation("s3", "move_object", time.Since(start), false)
		return fmt.Errorf("delete %s after copy: %w", oldKey, err)
	}

	metrics.RecordStoreOperation("s3", "move_object", time.Since(start), true)
	logging.Debug("S3 move object", zap.String("src", oldKey), zap.String("dst", newKey))
	return nil
}

// copySource renders the URL-encoded "bucket/key" CopyObject expects.
// Each key segment is escaped on its own so the delimiters survive.
func copySource(bucket, key string) string {
	segs := strings.Split(key, storage.Delimiter)
	for i, seg := range segs {
		segs[i] = escapeSegment(seg)
	}
	return escapeSegment(bucket) + "/" + strings.Join(segs, storage.Delimiter)
}

// escapeSegment is url.PathEscape plus "+", which S3 would read as a space.
func escapeSegment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
}

func (b *S3Backend) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Type returns "s3".
func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }

func httpStatus(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	return httpStatus(err) == http.StatusNotFound
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	return httpStatus(err) == http.StatusPreconditionFailed
}

func isTransient(err error) bool {
	switch status := httpStatus(err); {
	case status == http.StatusTooManyRequests, status >= 500:
		return true
	case status != 0:
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return true
		}
		return false
	}
	// No HTTP response at all: network level failure.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
