package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrNoImageSelected is returned when the user cancels image selection.
var ErrNoImageSelected = errors.New("no image selected")

// imagePatterns returns the picker glob patterns for accepted photos.
func imagePatterns() []string {
	patterns := make([]string, 0, len(filehandler.SupportedImageExtensions))
	for ext := range filehandler.SupportedImageExtensions {
		patterns = append(patterns, "*"+ext)
	}
	slices.Sort(patterns)
	return patterns
}

// PickImage opens the native file dialog restricted to images.
func PickImage() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Select a photo of the damaged vehicle"),
		zenity.FileFilters{
			{Name: "Images", Patterns: imagePatterns()},
		},
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return "", ErrNoImageSelected
	}
	if err != nil {
		return "", fmt.Errorf("file picker: %w", err)
	}
	log.Debug().Str("path", path).Msg("Image picked via native dialog")
	return path, nil
}

// PromptForImage asks for an image path on in, writing the prompt to out.
func PromptForImage(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Photo path: ")

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read image path: %w", err)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrNoImageSelected
	}
	return input, nil
}

// SelectImage tries the native picker and falls back to a terminal prompt
// when no dialog is available (headless sessions, SSH).
func SelectImage(in io.Reader, out io.Writer) (string, error) {
	path, err := PickImage()
	if err == nil || errors.Is(err, ErrNoImageSelected) {
		return path, err
	}
	log.Debug().Err(err).Msg("Native file picker unavailable; prompting instead")
	return PromptForImage(in, out)
}
