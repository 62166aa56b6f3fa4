package stubapp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/config"
	"github.com/jasonhhouse/gaps-e2e/internal/db"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/s3client"
)

const shutdownTimeout = 5 * time.Second

// Server is a running stand-in application.
type Server struct {
	// URL is the application root, e.g. http://127.0.0.1:8484.
	URL string

	app     *App
	store   *db.Store
	posters *s3client.Client
	http    *http.Server
	done    chan error
}

// Start opens the store and poster bucket described by cfg and serves the
// application on cfg.ListenAddr. Port 0 picks a free port.
func Start(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := obs.Pkg("stubapp")

	key, err := databaseKey(cfg.DatabaseKey)
	if err != nil {
		return nil, err
	}
	store, err := db.Open(cfg.DatabasePath, key)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var posters *s3client.Client
	if cfg.UseMemoryS3() {
		posters, err = s3client.NewMemory(ctx, cfg.AWSBucketName, "")
	} else {
		posters, err = s3client.New(ctx, s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			UsePathStyle:    true,
		})
		if err == nil {
			err = posters.EnsureBucket(ctx)
		}
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open poster storage: %w", err)
	}

	app, err := New(Options{Store: store, Posters: posters, RateLimit: cfg.RateLimitConfig})
	if err != nil {
		posters.Close()
		store.Close()
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		app.Close()
		posters.Close()
		store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	s := &Server{
		URL:     "http://" + ln.Addr().String(),
		app:     app,
		store:   store,
		posters: posters,
		http: &http.Server{
			Handler:           app.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan error, 1),
	}
	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info("stubapp_listening", "url", s.URL, "persistent", cfg.DatabasePath != "", "memory_s3", cfg.UseMemoryS3())
	return s, nil
}

// Done reports the serve loop's exit error.
func (s *Server) Done() <-chan error {
	return s.done
}

// Close stops serving and releases storage.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	s.app.Close()
	err = errors.Join(err, s.posters.Close(), s.store.Close())
	return err
}

// databaseKey decodes DATABASE_KEY, generating a throwaway key when unset.
func databaseKey(hexKey string) ([]byte, error) {
	if hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decode DATABASE_KEY: %w", err)
		}
		return key, nil
	}
	key := make([]byte, db.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate database key: %w", err)
	}
	return key, nil
}
