package blob

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectAPI is the narrow object-storage surface the builder needs. Tests
// substitute an in-memory implementation.
type objectAPI interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body io.Reader) error
}

// objects returns the object-storage client, constructing the real S3 client
// from the default AWS configuration chain on first use.
func (s *Store) objects(ctx context.Context) (objectAPI, error) {
	if s.api != nil {
		return s.api, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	s.api = &s3API{client: s3.NewFromConfig(cfg)}
	return s.api, nil
}

type s3API struct {
	client *s3.Client
}

func (a *s3API) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (a *s3API) Put(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &bucket, Key: &key, Body: body})
	return err
}
