package filehandler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// Decode defaults.
const (
	DefaultMaxImageBytes = 20 << 20
	DefaultMaxDimension  = 2048
	DefaultJPEGQuality   = 85
)

// DecodeError is returned for every upload that cannot be turned into a
// payload. Message is safe to show to the user.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeOptions tunes Decode. Zero values select the defaults.
type DecodeOptions struct {
	MaxBytes     int64
	MaxDimension int
	JPEGQuality  int
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxImageBytes
	}
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	return o
}

// ImageDecoder decodes uploads with a fixed set of options.
type ImageDecoder struct {
	Options DecodeOptions
}

// Decode implements the claim controller's decoder contract.
func (d ImageDecoder) Decode(ctx context.Context, filename string, r io.Reader) (*Payload, error) {
	return Decode(ctx, filename, r, d.Options)
}

// Decode reads an uploaded file and returns the payload to analyze.
//
// JPEG, PNG, GIF and WebP are decoded to verify them; anything larger than
// MaxDimension on its longest side is downscaled and re-encoded as JPEG.
// HEIC/HEIF are passed through untouched since the analysis service reads
// them natively.
func Decode(ctx context.Context, filename string, r io.Reader, opts DecodeOptions) (*Payload, error) {
	opts = opts.withDefaults()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, &DecodeError{Message: "image upload was cancelled", Err: err}
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, &DecodeError{Message: "could not read the selected file", Err: err}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Message: "the selected file is empty"}
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, &DecodeError{Message: fmt.Sprintf("image is larger than %d MB", opts.MaxBytes>>20)}
	}

	mimeType := DetectMIMEType(data, filename)
	if !IsImageMIMEType(mimeType) {
		return nil, &DecodeError{Message: fmt.Sprintf("the selected file is not a supported image (detected %s)", mimeType)}
	}

	payload := &Payload{
		Filename: filename,
		MIMEType: mimeType,
		Data:     data,
	}

	if meta, err := ExtractImageMetadata(data); err != nil {
		log.Debug().Err(err).Str("filename", filename).Msg("No EXIF metadata, continuing without it")
	} else {
		payload.Metadata = meta
	}

	switch mimeType {
	case "image/heic", "image/heif":
		// passed through
	default:
		if err := verifyAndResize(ctx, payload, opts); err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("filename", filename).
		Str("mime_type", payload.MIMEType).
		Int("size_bytes", len(payload.Data)).
		Int("width", payload.Width).
		Int("height", payload.Height).
		Bool("resized", payload.Resized).
		Dur("duration", time.Since(start)).
		Msg("Image decoded")

	return payload, nil
}

// verifyAndResize checks the image header and downsizes oversized photos.
func verifyAndResize(ctx context.Context, p *Payload, opts DecodeOptions) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		return &DecodeError{Message: "the selected image is corrupt or unreadable", Err: err}
	}
	p.Width, p.Height = cfg.Width, cfg.Height
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return &DecodeError{Message: "the selected image has no pixels"}
	}

	if cfg.Width <= opts.MaxDimension && cfg.Height <= opts.MaxDimension {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return &DecodeError{Message: "image upload was cancelled", Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		return &DecodeError{Message: "the selected image is corrupt or unreadable", Err: err}
	}

	resized := ResizeToFit(img, opts.MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return &DecodeError{Message: "could not prepare the image for analysis", Err: err}
	}

	log.Debug().
		Int("orig_width", cfg.Width).
		Int("orig_height", cfg.Height).
		Int("new_width", resized.Bounds().Dx()).
		Int("new_height", resized.Bounds().Dy()).
		Int("output_size", buf.Len()).
		Msg("Claim photo downscaled")

	p.Data = buf.Bytes()
	p.MIMEType = "image/jpeg"
	p.Width = resized.Bounds().Dx()
	p.Height = resized.Bounds().Dy()
	p.Resized = true
	return nil
}

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
