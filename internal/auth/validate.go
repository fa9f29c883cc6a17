package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ValidationError is a classified Gemini API failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes API failures.
type ValidationErrorType int

const (
	ErrTypeNoKey ValidationErrorType = iota
	ErrTypeInvalidKey
	ErrTypeNetworkError
	ErrTypeQuotaExceeded
	ErrTypeServerError
	ErrTypeUnknown
)

// String returns the metric label for t.
func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	case ErrTypeServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateAPIKey makes a minimal generation call with model to check that
// the client's key works.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var valErr *ValidationError
	switch {
	case err != nil:
		valErr = Classify(err)
	case resp == nil || len(resp.Candidates) == 0:
		valErr = &ValidationError{Type: ErrTypeUnknown, Message: "API returned empty response"}
	}

	result := "success"
	if valErr != nil {
		result = valErr.Type.String()
	}
	metrics.Claims().
		Dimension("Result", result).
		Duration("ApiKeyValidationMs", elapsed).
		Count("ApiKeyValidationResult").
		Flush()

	if valErr != nil {
		log.Error().Err(valErr).Str("result", result).Msg("API key validation failed")
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// errorPattern maps substrings of untyped errors to a failure class.
type errorPattern struct {
	typ      ValidationErrorType
	message  string
	contains []string
}

var errorPatterns = []errorPattern{
	{ErrTypeInvalidKey, "API key is invalid or has been revoked",
		[]string{"api key not valid", "invalid api key", "api_key_invalid", "permission denied"}},
	{ErrTypeQuotaExceeded, "API quota exceeded or rate limited",
		[]string{"quota", "resource exhausted", "rate limit"}},
	{ErrTypeNetworkError, "Network error - check your internet connection",
		[]string{"connection", "network", "timeout", "dial", "no such host", "unreachable"}},
}

// Classify maps an error from the Gemini API into a ValidationError.
func Classify(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ValidationError{Type: ErrTypeNetworkError, Message: "Request to Gemini API timed out", Err: err}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		for _, s := range p.contains {
			if strings.Contains(lower, s) {
				return &ValidationError{Type: p.typ, Message: p.message, Err: err}
			}
		}
	}
	return &ValidationError{Type: ErrTypeUnknown, Message: "Gemini API request failed", Err: err}
}

// classifyAPIError classifies by HTTP status; the returned error wraps err.
func classifyAPIError(apiErr *genai.APIError, err error) *ValidationError {
	switch {
	case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "api key"):
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "Bad request - API key may be malformed", Err: err}
	case apiErr.Code == 401 || apiErr.Code == 403:
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case apiErr.Code == 429:
		return &ValidationError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded - try again later", Err: err}
	case apiErr.Code >= 500:
		return &ValidationError{Type: ErrTypeServerError, Message: "Gemini API server error - try again later", Err: err}
	default:
		msg := apiErr.Message
		if msg == "" {
			msg = "Gemini API request failed"
		}
		return &ValidationError{Type: ErrTypeUnknown, Message: msg, Err: err}
	}
}
