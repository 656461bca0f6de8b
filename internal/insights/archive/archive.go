// Package archive keeps the raw cranking windows next to the verdicts so they
// can be re-evaluated later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
	"github.com/barnapet/smartdrive/pkg/options"
)

// Archive stores raw cranking reports.
type Archive interface {
	// Put stores payload under the key derived from the report and returns the key.
	Put(ctx context.Context, report *model.CrankingReport, payload []byte) (string, error)
	// URL returns a time-limited download link for the report of vin at start.
	URL(ctx context.Context, vin string, start time.Time, expiry time.Duration) (string, error)
}

// ObjectKey is prefix/vin/yyyy/mm/dd/<unix millis>.json. Redelivered reports
// map to the same key and overwrite themselves.
func ObjectKey(prefix, vin string, start time.Time) string {
	start = start.UTC()
	return path.Join(prefix, vin, start.Format("2006/01/02"), fmt.Sprintf("%d.json", start.UnixMilli()))
}

// MinIO archives to an S3 compatible object store.
type MinIO struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

var _ Archive = (*MinIO)(nil)

// NewMinIO creates an S3 compatible archive. The bucket is not touched until
// CheckBucket or Put.
func NewMinIO(opts *options.S3Options) (*MinIO, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIO{
		client:     client,
		bucketName: opts.BucketName,
		prefix:     opts.Prefix,
	}, nil
}

// CheckBucket creates the bucket when it does not exist yet.
func (a *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", a.bucketName)
		if err := a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (a *MinIO) Put(ctx context.Context, report *model.CrankingReport, payload []byte) (string, error) {
	key := ObjectKey(a.prefix, report.VIN, report.StartTime())
	_, err := a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"vin":      report.VIN,
				"strategy": report.Strategy,
			},
		})
	if err != nil {
		return "", fmt.Errorf("failed to archive cranking window: %w", err)
	}
	return key, nil
}

func (a *MinIO) URL(ctx context.Context, vin string, start time.Time, expiry time.Duration) (string, error) {
	key := ObjectKey(a.prefix, vin, start)
	u, err := a.client.PresignedGetObject(ctx, a.bucketName, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}
