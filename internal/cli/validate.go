package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/vehicle-claim-estimator/internal/auth"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/rs/zerolog/log"
)

// ValidateImagePath checks that path is a readable image file and returns
// its absolute path.
func ValidateImagePath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("image not found: %s", path)
		}
		return "", fmt.Errorf("access image %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not an image", path)
	}
	if !filehandler.IsImage(filepath.Ext(path)) {
		return "", fmt.Errorf("%s does not have a supported image extension", path)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// ValidationMessage returns the operator-facing explanation of an API key
// failure.
func ValidationMessage(err error) string {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		return "unexpected error during API key validation"
	}
	switch validationErr.Type {
	case auth.ErrTypeNoKey:
		return "No API key configured. Set GEMINI_API_KEY or store it in ~/.vehicle-claim-estimator/credentials.gpg"
	case auth.ErrTypeInvalidKey:
		return "Invalid API key. Please check your API key and try again"
	case auth.ErrTypeNetworkError:
		return "Network error. Please check your internet connection"
	case auth.ErrTypeQuotaExceeded:
		return "API quota exceeded. Please try again later or check your usage limits"
	default:
		return "API key validation failed"
	}
}

// HandleValidationError logs the API key failure and exits.
func HandleValidationError(err error) {
	log.Fatal().Err(err).Msg(ValidationMessage(err))
}
