// Package s3client stores rendered movie posters in an S3 bucket.
// Configure an S3-compatible endpoint, or use NewMemory for an in-process
// gofakes3 backend.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	posterPrefix       = "posters/"
	posterContentType  = "image/png"
	posterCacheControl = "public, max-age=86400"
)

var (
	// ErrPosterNotFound is returned when no poster is stored under a key.
	ErrPosterNotFound = errors.New("s3client: poster not found")
	// ErrInvalidKey is returned for keys outside posters/*.png.
	ErrInvalidKey = errors.New("s3client: invalid poster key")
)

// Client reads and writes poster images in one bucket.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string // "" serves posters from same-origin paths
	closeFn    func() error
}

// Config holds the configuration for creating an S3 client.
type Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty to use AWS S3.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicURL is the base URL posters are linked from.
	PublicURL string
	// UsePathStyle is required for gofakes3 and MinIO.
	UsePathStyle bool
}

// New creates a poster client for the configured endpoint.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromS3Client(s3Client, cfg.BucketName, cfg.PublicURL), nil
}

// NewFromS3Client wraps an existing S3 client.
func NewFromS3Client(s3Client *s3.Client, bucketName, publicURL string) *Client {
	return &Client{
		s3Client:   s3Client,
		bucketName: bucketName,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
	}
}

// checkKey accepts keys of the form posters/<name>.png with no nested path.
func checkKey(key string) error {
	name, ok := strings.CutPrefix(key, posterPrefix)
	if !ok || name == ".png" || !strings.HasSuffix(name, ".png") || strings.Contains(name, "/") || path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// PutPoster stores a PNG under key, replacing any previous image.
func (c *Client) PutPoster(ctx context.Context, key string, png []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(c.bucketName),
		Key:          aws.String(key),
		Body:         bytes.NewReader(png),
		ContentType:  aws.String(posterContentType),
		CacheControl: aws.String(posterCacheControl),
		ACL:          types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("s3client: put poster %q: %w", key, err)
	}
	return nil
}

// Poster returns the PNG stored under key, or ErrPosterNotFound.
func (c *Client) Poster(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, ErrPosterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3client: get poster %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3client: read poster %q: %w", key, err)
	}
	return data, nil
}

// HasPoster reports whether a poster is stored under key without
// downloading it.
func (c *Client) HasPoster(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("s3client: head poster %q: %w", key, err)
	}
	return true, nil
}

// DeletePosters removes the posters under keys. Missing posters and
// repeated keys are not an error.
func (c *Client) DeletePosters(ctx context.Context, keys ...string) error {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := checkKey(key); err != nil {
			return err
		}
		_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucketName),
			Key:    aws.String(key),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("s3client: delete poster %q: %w", key, err)
		}
	}
	return nil
}

// PosterURL returns the URL a browser loads the poster under key from.
func (c *Client) PosterURL(key string) string {
	return c.publicURL + "/" + strings.TrimPrefix(key, "/")
}

// EnsureBucket creates the bucket if it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucketName)})
	if err == nil {
		return nil
	}
	_, err = c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucketName)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("s3client: create bucket %q: %w", c.bucketName, err)
	}
	return nil
}

// Close releases the in-process backend started by NewMemory. It is a
// no-op for clients of a remote endpoint.
func (c *Client) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
