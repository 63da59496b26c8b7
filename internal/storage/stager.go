package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type objectClient interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// Stager puts temporary input images in the bucket and hands out short-lived
// read URLs for them.
type Stager struct {
	objects objectClient
	urlTTL  time.Duration
}

func NewStager(objects objectClient, urlTTL time.Duration) *Stager {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &Stager{objects: objects, urlTTL: urlTTL}
}

// Stage writes data under key and returns a presigned GET URL. A failed
// presign removes the object again so a returned error always means nothing
// was left behind.
func (s *Stager) Stage(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.objects.WriteObject(ctx, key, data, contentType); err != nil {
		return "", err
	}

	url, err := s.objects.PresignedGetURL(ctx, key, s.urlTTL)
	if err != nil {
		if delErr := s.objects.DeleteObject(context.WithoutCancel(ctx), key); delErr != nil {
			return "", errors.Join(err, fmt.Errorf("rollback staged object: %w", delErr))
		}
		return "", err
	}
	return url, nil
}

func (s *Stager) Delete(ctx context.Context, key string) error {
	return s.objects.DeleteObject(ctx, key)
}
