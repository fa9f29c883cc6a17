// Package events announces finished claim assessments to downstream systems.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
	"github.com/rs/zerolog/log"
)

const (
	// Source is the EventBridge source of every event.
	Source = "vehicle-claim-estimator"
	// DetailTypeClaimAssessed is the detail type of a finished assessment.
	DetailTypeClaimAssessed = "ClaimAssessed"
)

// ClaimAssessed is published once per completed analysis.
type ClaimAssessed struct {
	ClaimID            string                   `json:"claimId"`
	Timestamp          string                   `json:"timestamp"`
	VehicleType        string                   `json:"vehicleType"`
	TotalEstimatedCost float64                  `json:"totalEstimatedCost"`
	Currency           string                   `json:"currency"`
	PartCount          int                      `json:"partCount"`
	PayoutEligibility  report.PayoutEligibility `json:"payoutEligibility"`
	ConfidencePercent  float64                  `json:"confidencePercent"`
}

// NewClaimAssessed builds the event for a completed report.
func NewClaimAssessed(claimID string, r *report.DamageReport, at time.Time) ClaimAssessed {
	return ClaimAssessed{
		ClaimID:            claimID,
		Timestamp:          at.UTC().Format(time.RFC3339),
		VehicleType:        r.VehicleType,
		TotalEstimatedCost: r.TotalEstimatedCost,
		Currency:           r.Currency,
		PartCount:          len(r.Parts),
		PayoutEligibility:  r.PayoutEligibility,
		ConfidencePercent:  r.ConfidencePercent(),
	}
}

// Publisher delivers claim events.
type Publisher interface {
	PublishClaimAssessed(ctx context.Context, e ClaimAssessed) error
}

// PutEventsAPI is the subset of *eventbridge.Client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher puts events on an EventBridge bus.
type EventBridgePublisher struct {
	client PutEventsAPI
	bus    string
}

// NewEventBridgePublisher creates a publisher for bus.
func NewEventBridgePublisher(client PutEventsAPI, bus string) *EventBridgePublisher {
	return &EventBridgePublisher{client: client, bus: bus}
}

func (p *EventBridgePublisher) PublishClaimAssessed(ctx context.Context, e ClaimAssessed) error {
	detail, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ClaimAssessed: %w", err)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{{
			EventBusName: aws.String(p.bus),
			Source:       aws.String(Source),
			DetailType:   aws.String(DetailTypeClaimAssessed),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("claim", e.ClaimID).Str("bus", p.bus).Msg("ClaimAssessed emitted to EventBridge")
	return nil
}

// LogPublisher writes events to the log instead of a bus.
type LogPublisher struct{}

func (LogPublisher) PublishClaimAssessed(_ context.Context, e ClaimAssessed) error {
	log.Info().
		Str("claim", e.ClaimID).
		Str("vehicle", e.VehicleType).
		Float64("total", e.TotalEstimatedCost).
		Str("currency", e.Currency).
		Int("parts", e.PartCount).
		Str("payout", string(e.PayoutEligibility)).
		Float64("confidence", e.ConfidencePercent).
		Msg("Claim assessed")
	return nil
}
