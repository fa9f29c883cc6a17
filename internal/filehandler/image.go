package filehandler

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// ImageMetadata contains EXIF metadata extracted from a claim photo.
// Capture time and location help adjusters spot recycled or stale photos.
type ImageMetadata struct {
	Latitude  float64 `json:"latitude,omitempty" dynamodbav:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty" dynamodbav:"longitude,omitempty"`
	HasGPS    bool    `json:"hasGps" dynamodbav:"hasGps"`

	DateTaken time.Time `json:"dateTaken,omitzero" dynamodbav:"dateTaken,omitempty"`
	HasDate   bool      `json:"hasDate" dynamodbav:"hasDate"`

	CameraMake  string `json:"cameraMake,omitempty" dynamodbav:"cameraMake,omitempty"`
	CameraModel string `json:"cameraModel,omitempty" dynamodbav:"cameraModel,omitempty"`
}

// ExtractImageMetadata reads the EXIF block of an in-memory image.
// imagemeta auto-detects JPEG, HEIC and TIFF containers and only touches the
// metadata bytes.
func ExtractImageMetadata(data []byte) (*ImageMetadata, error) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	metadata := &ImageMetadata{}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		metadata.Latitude = gps.Latitude()
		metadata.Longitude = gps.Longitude()
		metadata.HasGPS = true
	}

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		metadata.DateTaken = exifData.DateTimeOriginal()
		metadata.HasDate = true
	case !exifData.CreateDate().IsZero():
		metadata.DateTaken = exifData.CreateDate()
		metadata.HasDate = true
	case !exifData.ModifyDate().IsZero():
		metadata.DateTaken = exifData.ModifyDate()
		metadata.HasDate = true
	}

	metadata.CameraMake = strings.TrimSpace(exifData.Make)
	metadata.CameraModel = strings.TrimSpace(exifData.Model)

	log.Debug().
		Bool("has_gps", metadata.HasGPS).
		Bool("has_date", metadata.HasDate).
		Str("camera", metadata.Camera()).
		Msg("Image metadata extraction complete")

	return metadata, nil
}

// Camera returns "make model", or "" when neither is known.
func (m *ImageMetadata) Camera() string {
	return strings.TrimSpace(m.CameraMake + " " + m.CameraModel)
}

// FormatMetadataContext formats the metadata as a text block for the
// analysis prompt. It returns "" when nothing useful is known.
func (m *ImageMetadata) FormatMetadataContext() string {
	if m == nil || (!m.HasGPS && !m.HasDate && m.Camera() == "") {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## PHOTO METADATA\n\n")
	if m.HasDate {
		sb.WriteString(fmt.Sprintf("- Taken: %s\n", m.DateTaken.Format("Monday, January 2, 2006 3:04 PM")))
	}
	if m.HasGPS {
		sb.WriteString(fmt.Sprintf("- Location: %.6f, %.6f\n", m.Latitude, m.Longitude))
	}
	if camera := m.Camera(); camera != "" {
		sb.WriteString(fmt.Sprintf("- Camera: %s\n", camera))
	}
	return sb.String()
}
