// Package filehandler turns an uploaded claim photo into the encoded image
// payload that is sent to the damage analysis service.
//
// Decoding is the first of the two suspension points of a claim: it reads the
// raw upload, checks that it really is an image, shrinks oversized photos and
// pulls the EXIF block (capture time, camera, GPS) for the claim record.
// Every failure surfaces as a *DecodeError so callers can show it to the user.
package filehandler

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// SupportedImageTypes maps every accepted image MIME type to its canonical
// file extension.
var SupportedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

// SupportedImageExtensions defines the file extensions accepted by the file
// pickers, mapped to their MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// Payload is a decoded claim photo, ready to be sent to the analysis service.
type Payload struct {
	Filename string
	MIMEType string
	Data     []byte

	// Width and Height are zero for formats that are passed through
	// without decoding (HEIC/HEIF).
	Width  int
	Height int

	// Resized is true when the original was downscaled and re-encoded.
	Resized bool

	Metadata *ImageMetadata
}

// Summary describes a payload without its bytes.
type Summary struct {
	Filename  string         `json:"filename,omitempty"`
	MIMEType  string         `json:"mimeType"`
	SizeBytes int            `json:"sizeBytes"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Resized   bool           `json:"resized,omitempty"`
	EXIF      *ImageMetadata `json:"exif,omitempty"`
}

// Summary returns the display summary of the payload.
func (p *Payload) Summary() *Summary {
	return &Summary{
		Filename:  p.Filename,
		MIMEType:  p.MIMEType,
		SizeBytes: len(p.Data),
		Width:     p.Width,
		Height:    p.Height,
		Resized:   p.Resized,
		EXIF:      p.Metadata,
	}
}

// Extension returns the canonical file extension for the payload's MIME type.
func (p *Payload) Extension() string {
	if ext, ok := SupportedImageTypes[p.MIMEType]; ok {
		return ext
	}
	return ".bin"
}

// DataURI renders the payload as a base64 data URI, the encoding the browser
// FileReader produces.
func (p *Payload) DataURI() string {
	return "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// ParseDataURI parses a base64 image data URI back into a payload. Only the
// MIME type and bytes are recovered; run the result through Decode to
// validate the content.
func ParseDataURI(uri string) (*Payload, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return nil, &DecodeError{Message: "image data is not a data URI"}
	}
	header, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, &DecodeError{Message: "image data URI has no payload"}
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return nil, &DecodeError{Message: "image data URI must be base64 encoded"}
	}
	if !IsImageMIMEType(mimeType) {
		return nil, &DecodeError{Message: fmt.Sprintf("unsupported image type %q", mimeType)}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &DecodeError{Message: "image data URI is not valid base64", Err: err}
	}
	return &Payload{MIMEType: mimeType, Data: data}, nil
}

// IsImageMIMEType reports whether mimeType is an accepted image type.
func IsImageMIMEType(mimeType string) bool {
	_, ok := SupportedImageTypes[strings.ToLower(mimeType)]
	return ok
}

// IsImage reports whether ext is an accepted image file extension.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// DetectMIMEType determines the MIME type of an upload from its content,
// falling back to the filename extension for formats the standard sniffer
// does not know (HEIC/HEIF).
func DetectMIMEType(data []byte, filename string) string {
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	if IsImageMIMEType(sniffed) {
		return sniffed
	}

	if brand := isoBrand(data); brand != "" {
		switch brand {
		case "heic", "heix", "hevc", "hevx":
			return "image/heic"
		case "mif1", "msf1", "heif":
			return "image/heif"
		}
	}

	// Sniffing found text or binary; only trust the extension if the
	// content is not recognisably something else.
	if sniffed == "application/octet-stream" {
		if mimeType, ok := SupportedImageExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
			return mimeType
		}
	}
	return sniffed
}

// isoBrand returns the major brand of an ISO-BMFF container ("ftyp" box),
// or "" if data does not start with one.
func isoBrand(data []byte) string {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return ""
	}
	return string(data[8:12])
}
