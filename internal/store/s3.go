package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/s3util"
	"github.com/rs/zerolog/log"
)

// S3ImageStore implements ImageStore on an S3 bucket.
type S3ImageStore struct {
	client s3util.ObjectAPI
	bucket string
}

var _ ImageStore = (*S3ImageStore)(nil)

// NewS3ImageStore creates an S3ImageStore for bucket.
func NewS3ImageStore(client s3util.ObjectAPI, bucket string) *S3ImageStore {
	return &S3ImageStore{client: client, bucket: bucket}
}

// Bucket returns the backing bucket.
func (s *S3ImageStore) Bucket() string {
	return s.bucket
}

func (s *S3ImageStore) PutImage(ctx context.Context, claimID, mimeType string, data []byte) (string, error) {
	key := ImageKey(claimID, extensionFor(mimeType))
	if err := s3util.PutBytes(ctx, s.client, s.bucket, key, mimeType, data, map[string]string{"claim-id": claimID}); err != nil {
		return "", fmt.Errorf("store claim image: %w", err)
	}
	log.Debug().Str("claim", claimID).Str("key", key).Int("bytes", len(data)).Msg("Claim image stored")
	return key, nil
}

func (s *S3ImageStore) GetImage(ctx context.Context, key string) ([]byte, error) {
	data, err := s3util.GetBytes(ctx, s.client, s.bucket, key)
	if errors.Is(err, s3util.ErrNoSuchKey) {
		return nil, ErrImageNotFound
	}
	return data, err
}

func (s *S3ImageStore) DeleteImage(ctx context.Context, key string) error {
	return s3util.Delete(ctx, s.client, s.bucket, key)
}

func extensionFor(mimeType string) string {
	return (&filehandler.Payload{MIMEType: mimeType}).Extension()
}
