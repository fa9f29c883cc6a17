// Package s3util wraps the S3 object calls used to store claim photos.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// projectTagging is the URL-encoded cost-allocation tag applied to every
// object written.
const projectTagging = "Project=vehicle-claim-estimator"

// ErrNoSuchKey is returned by GetBytes when the object does not exist.
var ErrNoSuchKey = errors.New("s3 object not found")

// ObjectAPI is the subset of *s3.Client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// PutBytes uploads data to bucket/key with the given content type and
// user metadata.
func PutBytes(ctx context.Context, client ObjectAPI, bucket, key, contentType string, data []byte, meta map[string]string) error {
	start := time.Now()
	size := int64(len(data))
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentType:   &contentType,
		ContentLength: &size,
		Metadata:      meta,
		Tagging:       aws.String(projectTagging),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int64("bytes", size).Dur("elapsed", time.Since(start)).Msg("Uploaded object to S3")
	return nil
}

// GetBytes downloads bucket/key into memory.
func GetBytes(ctx context.Context, client ObjectAPI, bucket, key string) ([]byte, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNoSuchKey
		}
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read S3 object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes bucket/key. Deleting a missing key succeeds.
func Delete(ctx context.Context, client ObjectAPI, bucket, key string) error {
	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		return fmt.Errorf("S3 DeleteObject %s: %w", key, err)
	}
	return nil
}
