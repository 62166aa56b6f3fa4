package s3client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// NewMemory starts an in-memory gofakes3 backend on a loopback port and
// returns a client for it with the bucket already created. Objects are
// served to browsers through publicURL, not the backend address.
// Call Close to stop the backend.
func NewMemory(ctx context.Context, bucketName, publicURL string) (*Client, error) {
	faker := gofakes3.New(s3mem.New())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("s3client: failed to listen for in-memory backend: %w", err)
	}
	srv := &http.Server{
		Handler:           faker.Server(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	endpoint := "http://" + ln.Addr().String()

	client, err := newStatic(ctx, endpoint, bucketName, publicURL)
	if err != nil {
		srv.Close()
		return nil, err
	}
	client.closeFn = srv.Close

	if err := client.EnsureBucket(ctx); err != nil {
		srv.Close()
		return nil, err
	}
	return client, nil
}

// newStatic builds a path-style client with fixed credentials, as gofakes3 expects.
func newStatic(ctx context.Context, endpoint, bucketName, publicURL string) (*Client, error) {
	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("gaps-key", "gaps-secret", ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true // Required for gofakes3
	})
	return NewFromS3Client(s3Client, bucketName, publicURL), nil
}
