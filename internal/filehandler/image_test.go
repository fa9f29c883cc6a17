package filehandler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeSmallPNG(t *testing.T) {
	data := encodeTestPNG(t, 64, 48)

	p, err := Decode(context.Background(), "bumper.png", bytes.NewReader(data), DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if p.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", p.MIMEType)
	}
	if p.Width != 64 || p.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", p.Width, p.Height)
	}
	if p.Resized {
		t.Error("small image should not be resized")
	}
	if !bytes.Equal(p.Data, data) {
		t.Error("small image bytes should pass through unchanged")
	}
	if p.Filename != "bumper.png" {
		t.Errorf("Filename = %q", p.Filename)
	}
}

func TestDecodeDownscalesLargeImage(t *testing.T) {
	data := encodeTestPNG(t, 400, 100)

	p, err := Decode(context.Background(), "wide.png", bytes.NewReader(data), DecodeOptions{MaxDimension: 200})
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !p.Resized {
		t.Fatal("expected image to be resized")
	}
	if p.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", p.MIMEType)
	}
	if p.Width != 200 || p.Height != 50 {
		t.Errorf("dimensions = %dx%d, want 200x50", p.Width, p.Height)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		opts    DecodeOptions
		wantMsg string
	}{
		{"empty", nil, DecodeOptions{}, "empty"},
		{"text", []byte("definitely not a photo"), DecodeOptions{}, "not a supported image"},
		{"too large", encodeTestPNG(t, 64, 64), DecodeOptions{MaxBytes: 16}, "larger than"},
		{"corrupt png", append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...), DecodeOptions{}, "corrupt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(context.Background(), "upload", bytes.NewReader(tt.data), tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if !strings.Contains(de.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", de.Message, tt.wantMsg)
			}
		})
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Decode(ctx, "x.png", bytes.NewReader(encodeTestPNG(t, 2, 2)), DecodeOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestImageDecoderUsesOptions(t *testing.T) {
	d := ImageDecoder{Options: DecodeOptions{MaxBytes: 8}}
	_, err := d.Decode(context.Background(), "x.png", bytes.NewReader(encodeTestPNG(t, 8, 8)))
	if !IsDecodeError(err) {
		t.Errorf("expected size DecodeError, got %v", err)
	}
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{100, 50, 200, 100, 50},
		{4000, 3000, 2048, 2048, 1536},
		{3000, 4000, 2048, 1536, 2048},
		{5000, 1, 100, 100, 1},
		{2048, 2048, 2048, 2048, 2048},
	}
	for _, tt := range tests {
		w, h := fitDimensions(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitDimensions(%d, %d, %d) = (%d, %d), want (%d, %d)", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestImageMetadataContext(t *testing.T) {
	meta := &ImageMetadata{
		Latitude:    6.5244,
		Longitude:   3.3792,
		HasGPS:      true,
		DateTaken:   time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC),
		HasDate:     true,
		CameraMake:  "Apple",
		CameraModel: "iPhone 15 Pro",
	}

	ctx := meta.FormatMetadataContext()
	for _, want := range []string{"PHOTO METADATA", "6.524400, 3.379200", "Apple iPhone 15 Pro", "March 14, 2025"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("FormatMetadataContext() missing %q:\n%s", want, ctx)
		}
	}

	if (&ImageMetadata{}).FormatMetadataContext() != "" {
		t.Error("empty metadata should format to an empty string")
	}
	var nilMeta *ImageMetadata
	if nilMeta.FormatMetadataContext() != "" {
		t.Error("nil metadata should format to an empty string")
	}
}
