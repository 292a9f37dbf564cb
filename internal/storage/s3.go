package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vidmirror/backend/internal/config"
)

// Archive mirrors fetched video binaries into an S3-compatible bucket.
type Archive struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	baseURL  string
}

// NewArchive configures an uploader targeting the provided object store.
func NewArchive(ctx context.Context, cfg config.ObjectStoreConfig) (*Archive, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return &Archive{
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   "videos",
		baseURL:  strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}, nil
}

// Key returns the object key used for name.
func (a *Archive) Key(name string) string {
	return a.prefix + "/" + strings.TrimLeft(name, "/")
}

// Save uploads r under name and returns its public location, or the object
// key when no public base URL is configured.
func (a *Archive) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if strings.Trim(name, "/ ") == "" {
		return "", fmt.Errorf("s3 archive: empty key")
	}
	key := a.Key(name)

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 archive upload %s: %w", key, err)
	}

	if a.baseURL == "" {
		return key, nil
	}
	return fmt.Sprintf("%s/%s", a.baseURL, key), nil
}
