package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
)

// Storage is the interface for the run archive
type Storage interface {
	// Put returns a writer to save an object. The object is committed on Close.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens an archived object
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

type storageConfig struct {
	endpoint string
}

// StorageOption is a functional option for the Cloud Storage client
type StorageOption func(*storageConfig)

// WithStorageEndpoint points the client at a custom endpoint such as a local emulator.
// Authentication is disabled in that case.
func WithStorageEndpoint(endpoint string) StorageOption {
	return func(c *storageConfig) {
		c.endpoint = endpoint
	}
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string, opts ...StorageOption) (Storage, error) {
	var cfg storageConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.endpoint != "" {
		clientOpts = append(clientOpts,
			option.WithEndpoint(cfg.endpoint),
			option.WithoutAuthentication(),
		)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.Value("bucket", bucketName))
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	writer := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	return writer, nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.Value("bucket", s.bucketName),
			goerr.Value("key", key))
	}

	return reader, nil
}
