// Package store persists claim sessions beyond a single process.
//
// Claim records use a single-table DynamoDB design: PK = CLAIM#{claimId},
// SK = META, with a TTL attribute (expiresAt) that deletes the record when
// the session expires. Photo bytes are kept out of the record and stored in
// S3 under claims/{claimId}/image{ext}. In-memory implementations back the
// local server and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
)

// SessionTTL is the default lifetime of a persisted claim and its photo.
const SessionTTL = 24 * time.Hour

// ErrImageNotFound is returned by ImageStore.GetImage for a missing object.
var ErrImageNotFound = errors.New("image not found")

// ClaimStore persists claim records. Get returns (nil, nil) when the record
// does not exist; Put replaces the whole record.
type ClaimStore interface {
	PutClaim(ctx context.Context, rec *ClaimRecord) error
	GetClaim(ctx context.Context, claimID string) (*ClaimRecord, error)
	DeleteClaim(ctx context.Context, claimID string) error
}

// ImageStore persists claim photo bytes.
type ImageStore interface {
	// PutImage stores data and returns the key to record on the claim.
	PutImage(ctx context.Context, claimID, mimeType string, data []byte) (string, error)
	GetImage(ctx context.Context, key string) ([]byte, error)
	DeleteImage(ctx context.Context, key string) error
}

// ClaimRecord is the persisted form of a claim snapshot. The photo itself is
// referenced by ImageKey.
type ClaimRecord struct {
	ID         string               `json:"id" dynamodbav:"-"`
	Status     string               `json:"status" dynamodbav:"status"`
	Report     *report.DamageReport `json:"report,omitempty" dynamodbav:"report,omitempty"`
	Error      string               `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Image      *ImageInfo           `json:"image,omitempty" dynamodbav:"image,omitempty"`
	Generation uint64               `json:"generation" dynamodbav:"generation"`
	CreatedAt  int64                `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt  int64                `json:"updatedAt" dynamodbav:"updatedAt"`
}

// ImageInfo describes the stored photo of a claim.
type ImageInfo struct {
	Key      string                     `json:"key" dynamodbav:"key"`
	Filename string                     `json:"filename,omitempty" dynamodbav:"filename,omitempty"`
	MIMEType string                     `json:"mimeType" dynamodbav:"mimeType"`
	Width    int                        `json:"width,omitempty" dynamodbav:"width,omitempty"`
	Height   int                        `json:"height,omitempty" dynamodbav:"height,omitempty"`
	Resized  bool                       `json:"resized,omitempty" dynamodbav:"resized,omitempty"`
	EXIF     *filehandler.ImageMetadata `json:"exif,omitempty" dynamodbav:"exif,omitempty"`
}

// NewImageInfo describes p stored under key.
func NewImageInfo(key string, p *filehandler.Payload) *ImageInfo {
	return &ImageInfo{
		Key:      key,
		Filename: p.Filename,
		MIMEType: p.MIMEType,
		Width:    p.Width,
		Height:   p.Height,
		Resized:  p.Resized,
		EXIF:     p.Metadata,
	}
}

// Payload rebuilds the image payload from its description and bytes.
func (i *ImageInfo) Payload(data []byte) *filehandler.Payload {
	return &filehandler.Payload{
		Filename: i.Filename,
		MIMEType: i.MIMEType,
		Data:     data,
		Width:    i.Width,
		Height:   i.Height,
		Resized:  i.Resized,
		Metadata: i.EXIF,
	}
}

// ImageKey returns the object key for a claim photo.
func ImageKey(claimID, ext string) string {
	return "claims/" + claimID + "/image" + ext
}
