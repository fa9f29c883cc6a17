// Package chat sends claim photos to Gemini and turns the response into a
// validated damage report.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/assets"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/jsonutil"
	"github.com/fpang/vehicle-claim-estimator/internal/metrics"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// AnalyzerOptions configures a DamageAnalyzer.
type AnalyzerOptions struct {
	// Model defaults to GetModelName().
	Model string
	// Market selects the pricing market and currency; defaults to Nigeria/NGN.
	Market assets.MarketContext
	// Temperature is passed through when non-nil.
	Temperature *float32
}

// DamageAnalyzer estimates vehicle damage from a single photo with one
// Gemini call.
type DamageAnalyzer struct {
	gen    ContentGenerator
	model  string
	system string
	temp   *float32
}

// NewDamageAnalyzer creates an analyzer backed by client.
func NewDamageAnalyzer(client *genai.Client, opts AnalyzerOptions) *DamageAnalyzer {
	return NewDamageAnalyzerWithGenerator(client.Models, opts)
}

// NewDamageAnalyzerWithGenerator creates an analyzer over any generator.
func NewDamageAnalyzerWithGenerator(gen ContentGenerator, opts AnalyzerOptions) *DamageAnalyzer {
	model := opts.Model
	if model == "" {
		model = GetModelName()
	}
	return &DamageAnalyzer{
		gen:    gen,
		model:  model,
		system: assets.RenderDamageSystemPrompt(opts.Market),
		temp:   opts.Temperature,
	}
}

// Model returns the configured model ID.
func (a *DamageAnalyzer) Model() string {
	return a.model
}

// Analyze sends image to the model and returns the parsed, validated report.
// Every failure is an *AnalysisError.
func (a *DamageAnalyzer) Analyze(ctx context.Context, image *filehandler.Payload) (*report.DamageReport, error) {
	if image == nil || len(image.Data) == 0 {
		return nil, &AnalysisError{Kind: KindInvalidInput, Err: errors.New("no image data")}
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: image.MIMEType, Data: image.Data}},
			{Text: assets.RenderDamageRequestPrompt(image.Metadata.FormatMetadataContext())},
		},
	}}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: a.system}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    DamageReportSchema(),
		Temperature:       a.temp,
	}

	log.Info().
		Str("model", a.model).
		Str("mime", image.MIMEType).
		Int("bytes", len(image.Data)).
		Msg("Sending claim photo to Gemini")

	start := time.Now()
	resp, err := a.gen.GenerateContent(ctx, a.model, contents, config)
	elapsed := time.Since(start)

	if err != nil {
		ae := classify(err)
		a.record(ae.Kind, elapsed, nil)
		return nil, ae
	}

	result, err := parseReport(resp)
	if err != nil {
		ae := &AnalysisError{Kind: KindMalformed, Err: err}
		a.record(ae.Kind, elapsed, nil)
		return nil, ae
	}

	a.record("", elapsed, result)
	log.Info().
		Str("model", a.model).
		Dur("duration", elapsed).
		Str("vehicle", result.VehicleType).
		Int("parts", len(result.Parts)).
		Str("payout", string(result.PayoutEligibility)).
		Msg("Gemini damage estimate received")
	return result, nil
}

// parseReport extracts and validates the report from a model response.
func parseReport(resp *genai.GenerateContentResponse) (*report.DamageReport, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("empty response from Gemini")
	}
	if fr := resp.Candidates[0].FinishReason; fr != "" && fr != genai.FinishReasonStop {
		log.Warn().Str("finish_reason", string(fr)).Msg("Gemini response did not finish normally")
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.New("response contained no text")
	}
	log.Debug().Str("response", jsonutil.Preview(text)).Msg("Raw damage analysis response")

	parsed, err := jsonutil.ParseJSON[report.DamageReport](text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse damage report: %w", err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (a *DamageAnalyzer) record(kind ErrorKind, elapsed time.Duration, r *report.DamageReport) {
	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}
	m := metrics.Claims().
		Dimension("Operation", "damage_analysis").
		Dimension("Outcome", outcome).
		Duration("AnalysisLatencyMs", elapsed).
		Count("AnalysisCount").
		Property("model", a.model)
	if r != nil {
		m.Metric("PartCount", float64(len(r.Parts)), metrics.UnitCount).
			Property("payoutEligibility", string(r.PayoutEligibility)).
			Property("currency", r.Currency)
	}
	m.Flush()
}
