// Package report defines the damage report contract returned by the AI
// analysis service. Field names and enumerations are part of the wire format
// and must match what the model is instructed to produce.
package report

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DamageType classifies the kind of damage found on a part.
type DamageType string

const (
	DamageScratch    DamageType = "Scratch"
	DamageDent       DamageType = "Dent"
	DamageCrack      DamageType = "Crack"
	DamageShattered  DamageType = "Shattered"
	DamagePuncture   DamageType = "Puncture"
	DamageStructural DamageType = "Structural"
)

// DamageTypes lists every accepted DamageType in display order.
var DamageTypes = []DamageType{
	DamageScratch, DamageDent, DamageCrack, DamageShattered, DamagePuncture, DamageStructural,
}

// RepairAction is the recommended remedy for a damaged part.
type RepairAction string

const (
	ActionRepair  RepairAction = "Repair"
	ActionReplace RepairAction = "Replace"
)

// RepairActions lists every accepted RepairAction.
var RepairActions = []RepairAction{ActionRepair, ActionReplace}

// PayoutEligibility is the settlement recommendation for the claim.
type PayoutEligibility string

const (
	PayoutEligible     PayoutEligibility = "Eligible"
	PayoutManualReview PayoutEligibility = "Needs Manual Review"
	PayoutDenied       PayoutEligibility = "Denied"
)

// PayoutEligibilities lists every accepted PayoutEligibility.
var PayoutEligibilities = []PayoutEligibility{PayoutEligible, PayoutManualReview, PayoutDenied}

// PartEstimation is the estimate for a single damaged part.
type PartEstimation struct {
	PartName      string       `json:"partName" dynamodbav:"partName"`
	DamageType    DamageType   `json:"damageType" dynamodbav:"damageType"`
	Severity      float64      `json:"severity" dynamodbav:"severity"` // 1 to 10 by convention
	Action        RepairAction `json:"action" dynamodbav:"action"`
	EstimatedCost float64      `json:"estimatedCost" dynamodbav:"estimatedCost"`
	LaborHours    float64      `json:"laborHours" dynamodbav:"laborHours"`
}

// DamageReport is the structured cost estimate for one claim photo.
// Reports are display data: they are never mutated after they are received.
type DamageReport struct {
	VehicleType        string            `json:"vehicleType" dynamodbav:"vehicleType"`
	TotalEstimatedCost float64           `json:"totalEstimatedCost" dynamodbav:"totalEstimatedCost"`
	Currency           string            `json:"currency" dynamodbav:"currency"`
	Parts              []PartEstimation  `json:"parts" dynamodbav:"parts"`
	Summary            string            `json:"summary" dynamodbav:"summary"`
	ConfidenceScore    float64           `json:"confidenceScore" dynamodbav:"confidenceScore"`
	PayoutEligibility  PayoutEligibility `json:"payoutEligibility" dynamodbav:"payoutEligibility"`
}

// Valid reports whether d is one of the accepted damage types.
func (d DamageType) Valid() bool {
	for _, v := range DamageTypes {
		if d == v {
			return true
		}
	}
	return false
}

// Valid reports whether a is one of the accepted repair actions.
func (a RepairAction) Valid() bool {
	return a == ActionRepair || a == ActionReplace
}

// Valid reports whether p is one of the accepted payout recommendations.
func (p PayoutEligibility) Valid() bool {
	for _, v := range PayoutEligibilities {
		if p == v {
			return true
		}
	}
	return false
}

// ErrInvalidReport is wrapped by every error returned from Validate.
var ErrInvalidReport = errors.New("invalid damage report")

// Validate checks the report against the wire contract. Severity and
// confidence are not range-checked; only their finiteness is.
func (r *DamageReport) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: report is empty", ErrInvalidReport)
	}

	var problems []string
	if strings.TrimSpace(r.VehicleType) == "" {
		problems = append(problems, "vehicleType is required")
	}
	if strings.TrimSpace(r.Currency) == "" {
		problems = append(problems, "currency is required")
	}
	if !nonNegative(r.TotalEstimatedCost) {
		problems = append(problems, fmt.Sprintf("totalEstimatedCost must be a non-negative number, got %v", r.TotalEstimatedCost))
	}
	if !finite(r.ConfidenceScore) {
		problems = append(problems, "confidenceScore must be a finite number")
	}
	if !r.PayoutEligibility.Valid() {
		problems = append(problems, fmt.Sprintf("payoutEligibility %q is not one of %v", r.PayoutEligibility, PayoutEligibilities))
	}

	for i, p := range r.Parts {
		prefix := fmt.Sprintf("parts[%d]", i)
		if strings.TrimSpace(p.PartName) == "" {
			problems = append(problems, prefix+".partName is required")
		}
		if !p.DamageType.Valid() {
			problems = append(problems, fmt.Sprintf("%s.damageType %q is not one of %v", prefix, p.DamageType, DamageTypes))
		}
		if !p.Action.Valid() {
			problems = append(problems, fmt.Sprintf("%s.action %q is not one of %v", prefix, p.Action, RepairActions))
		}
		if !finite(p.Severity) {
			problems = append(problems, prefix+".severity must be a finite number")
		}
		if !nonNegative(p.EstimatedCost) {
			problems = append(problems, fmt.Sprintf("%s.estimatedCost must be a non-negative number, got %v", prefix, p.EstimatedCost))
		}
		if !nonNegative(p.LaborHours) {
			problems = append(problems, fmt.Sprintf("%s.laborHours must be a non-negative number, got %v", prefix, p.LaborHours))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReport, strings.Join(problems, "; "))
	}
	return nil
}

// PartsTotal sums the estimated cost of every part. The service is asked to
// make TotalEstimatedCost equal to this, but nothing enforces it.
func (r *DamageReport) PartsTotal() float64 {
	var total float64
	for _, p := range r.Parts {
		total += p.EstimatedCost
	}
	return total
}

// LaborHours sums the labor hours of every part.
func (r *DamageReport) LaborHours() float64 {
	var total float64
	for _, p := range r.Parts {
		total += p.LaborHours
	}
	return total
}

// ConfidencePercent returns the confidence score on a 0-100 scale. Scores at
// or below 1 are treated as fractions, so exactly 1 means 100%, matching the
// 0-1 range the analysis schema requests. A report on the 0-100 scale that
// scores exactly 1 is therefore misread; scores above 1 pass through.
func (r *DamageReport) ConfidencePercent() float64 {
	if r.ConfidenceScore <= 1 {
		return r.ConfidenceScore * 100
	}
	return r.ConfidenceScore
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func nonNegative(f float64) bool {
	return finite(f) && f >= 0
}
