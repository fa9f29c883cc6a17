package chat

import (
	"context"
	"errors"

	"github.com/fpang/vehicle-claim-estimator/internal/auth"
)

// ErrorKind classifies an analysis failure.
type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindAuth         ErrorKind = "auth"
	KindQuota        ErrorKind = "quota"
	KindNetwork      ErrorKind = "network"
	KindServer       ErrorKind = "server"
	KindMalformed    ErrorKind = "malformed_response"
	KindCancelled    ErrorKind = "cancelled"
	KindUnknown      ErrorKind = "unknown"
)

// User-facing messages per failure kind.
var userMessages = map[ErrorKind]string{
	KindInvalidInput: "The photo could not be sent for analysis. Please select it again.",
	KindAuth:         "The analysis service rejected our credentials. Please contact support.",
	KindQuota:        "The analysis service is busy right now. Please try again in a minute.",
	KindNetwork:      "Failed to reach the analysis service. Check connection and try again.",
	KindServer:       "The analysis service is having trouble. Please try again shortly.",
	KindMalformed:    "The analysis did not return a usable estimate. Please try again with a clearer photo.",
	KindCancelled:    "The analysis was cancelled.",
}

// AnalysisError is returned by DamageAnalyzer for every failure.
type AnalysisError struct {
	Kind ErrorKind
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return "damage analysis failed (" + string(e.Kind) + "): " + e.Err.Error()
	}
	return "damage analysis failed (" + string(e.Kind) + ")"
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// UserMessage returns text suitable for showing to the claimant. Unknown
// failures return "" so the caller's fallback message applies.
func (e *AnalysisError) UserMessage() string {
	return userMessages[e.Kind]
}

// classify wraps an API error into an AnalysisError.
func classify(err error) *AnalysisError {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.Canceled) {
		return &AnalysisError{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &AnalysisError{Kind: KindNetwork, Err: err}
	}

	kind := KindUnknown
	switch auth.Classify(err).Type {
	case auth.ErrTypeNoKey, auth.ErrTypeInvalidKey:
		kind = KindAuth
	case auth.ErrTypeQuotaExceeded:
		kind = KindQuota
	case auth.ErrTypeNetworkError:
		kind = KindNetwork
	case auth.ErrTypeServerError:
		kind = KindServer
	}
	return &AnalysisError{Kind: kind, Err: err}
}
