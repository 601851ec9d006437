// Package artifacts uploads failure evidence (a screenshot and the page
// HTML) to S3-compatible object storage. Use gofakes3 in tests.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kuitang/uifixture/internal/config"
	"github.com/kuitang/uifixture/internal/errs"
	"github.com/kuitang/uifixture/internal/obs"
	"github.com/kuitang/uifixture/internal/page"
)

// Object names written by Capture under its prefix.
const (
	ScreenshotName = "screenshot.png"
	PageHTMLName   = "page.html"
)

// Store writes artifacts into one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// Options configures New.
type Options struct {
	Endpoint        string // leave empty for AWS S3
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// OptionsFrom maps run configuration onto Options. A custom endpoint
// implies path-style addressing.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Bucket:          cfg.ArtifactBucket,
		UsePathStyle:    cfg.AWSEndpointS3 != "",
	}
}

// New creates a store from opts.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errs.New(errs.InvalidArgument, "artifact bucket is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errs.Wrap(errs.FailedPrecondition, "load AWS config", err)
	}
	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewFromClient(client, opts.Bucket), nil
}

// NewFromClient wraps an existing S3 client.
func NewFromClient(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put stores body under key.
func (s *Store) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("artifacts: put %q: %w", key, err)
	}
	return nil
}

// Get reads the object at key. A missing key is errs.NotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, errs.New(errs.NotFound, "artifact "+key)
		}
		return nil, fmt.Errorf("artifacts: get %q: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read %q: %w", key, err)
	}
	return data, nil
}

// Capture uploads the driver's current screenshot and HTML under prefix and
// returns the keys written. It uploads whatever it could collect and joins
// the errors for the rest.
func (s *Store) Capture(ctx context.Context, d page.Driver, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	var keys []string
	var failures []error

	if shot, err := d.Screenshot(); err != nil {
		failures = append(failures, fmt.Errorf("screenshot: %w", err))
	} else {
		key := path.Join(prefix, ScreenshotName)
		if err := s.Put(ctx, key, "image/png", shot); err != nil {
			failures = append(failures, err)
		} else {
			keys = append(keys, key)
		}
	}

	if html, err := d.Content(); err != nil {
		failures = append(failures, fmt.Errorf("page content: %w", err))
	} else {
		key := path.Join(prefix, PageHTMLName)
		if err := s.Put(ctx, key, "text/html; charset=utf-8", []byte(html)); err != nil {
			failures = append(failures, err)
		} else {
			keys = append(keys, key)
		}
	}

	obs.From(ctx).Info("failure artifacts captured", "pkg", "artifacts",
		"bucket", s.bucket, "keys", keys, "failed", len(failures))
	return keys, errors.Join(failures...)
}
