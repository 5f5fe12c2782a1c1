// internal/media/s3.go
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

// S3Options configures the S3 driver. It supports both AWS S3 and
// S3-compatible services like MinIO.
type S3Options struct {
	Endpoint  string // empty for AWS itself
	Region    string
	Bucket    string
	AccessKey string // empty selects the default credential chain
	SecretKey string
	PublicURL string // Base URL of public objects; see publicBaseURL for the default
}

// S3 keeps blobs in an S3 bucket.
type S3 struct {
	client    *s3.Client
	bucket    string
	publicURL string // prefix of every URL returned by URL
}

// NewS3 creates an S3 driver. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     opts.AccessKey,
					SecretAccessKey: opts.SecretKey,
				}, nil
			})))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
	})

	return &S3{client: client, bucket: opts.Bucket, publicURL: publicBaseURL(opts)}, nil
}

// publicBaseURL returns the prefix for object URLs: PublicURL when set, the
// path style <endpoint>/<bucket> for S3-compatible services, and the
// virtual hosted AWS address otherwise.
func publicBaseURL(opts S3Options) string {
	switch {
	case opts.PublicURL != "":
		return opts.PublicURL
	case opts.Endpoint != "":
		return joinURL(opts.Endpoint, opts.Bucket)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}
}

// Put uploads the blob under a fresh key below prefix.
// Parameters:
//   - ctx: bounds the upload
//   - prefix: content type directory, e.g. "posts"
//   - up: the validated upload; its detected format sets the extension
//
// Returns:
//   - string: the new object key
//   - error: any error from PutObject
func (s *S3) Put(ctx context.Context, prefix string, up *model.Upload) (string, error) {
	key := NewKey(prefix, up)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(up.Data),
		ContentLength: aws.Int64(up.Size()),
		ContentType:   aws.String(contentType(up)),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// Delete removes the object. S3 does not report missing keys on delete, so a
// HEAD request runs first.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Exists reports whether key is present, using HEAD.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

// URL returns the public address of key.
func (s *S3) URL(key string) string {
	return joinURL(s.publicURL, key)
}
