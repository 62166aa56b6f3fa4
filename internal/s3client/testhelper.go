package s3client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// TestClient creates an S3 client backed by gofakes3 for testing.
// The returned client uses an in-memory S3 backend and a test HTTP server.
// The test server is automatically cleaned up when the test completes.
func TestClient(t testing.TB, bucketName string) *Client {
	t.Helper()

	faker := gofakes3.New(s3mem.New())
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(func() {
		ts.Close()
	})

	client, err := newStatic(context.Background(), ts.URL, bucketName, "")
	if err != nil {
		t.Fatalf("failed to create test client: %v", err)
	}
	if err := client.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("failed to create test bucket: %v", err)
	}
	return client
}
