package chat

import (
	"github.com/fpang/vehicle-claim-estimator/internal/report"
	"google.golang.org/genai"
)

func enumStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// DamageReportSchema is the structured-output schema sent with every
// analysis request. It mirrors report.DamageReport field for field.
func DamageReportSchema() *genai.Schema {
	zero := 0.0
	one := 1.0
	ten := 10.0

	part := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"partName":      {Type: genai.TypeString, Description: "Name of the damaged part, e.g. Front bumper"},
			"damageType":    {Type: genai.TypeString, Enum: enumStrings(report.DamageTypes)},
			"severity":      {Type: genai.TypeInteger, Minimum: &one, Maximum: &ten},
			"action":        {Type: genai.TypeString, Enum: enumStrings(report.RepairActions)},
			"estimatedCost": {Type: genai.TypeNumber, Minimum: &zero},
			"laborHours":    {Type: genai.TypeNumber, Minimum: &zero},
		},
		Required:         []string{"partName", "damageType", "severity", "action", "estimatedCost", "laborHours"},
		PropertyOrdering: []string{"partName", "damageType", "severity", "action", "estimatedCost", "laborHours"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"vehicleType":        {Type: genai.TypeString},
			"totalEstimatedCost": {Type: genai.TypeNumber, Minimum: &zero},
			"currency":           {Type: genai.TypeString},
			"parts":              {Type: genai.TypeArray, Items: part},
			"summary":            {Type: genai.TypeString},
			"confidenceScore":    {Type: genai.TypeNumber, Minimum: &zero, Maximum: &one},
			"payoutEligibility":  {Type: genai.TypeString, Enum: enumStrings(report.PayoutEligibilities)},
		},
		Required: []string{"vehicleType", "totalEstimatedCost", "currency", "parts", "summary", "confidenceScore", "payoutEligibility"},
		PropertyOrdering: []string{
			"vehicleType", "totalEstimatedCost", "currency", "parts", "summary", "confidenceScore", "payoutEligibility",
		},
	}
}
