package cli

import (
	"context"

	"github.com/fpang/vehicle-claim-estimator/internal/auth"
	"github.com/fpang/vehicle-claim-estimator/internal/chat"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// InitGeminiClient retrieves the API key, creates a Gemini client and
// validates the key against model. Exits fatally on failure.
func InitGeminiClient(ctx context.Context, model string) *genai.Client {
	apiKey, err := auth.GetAPIKey(ctx)
	if err != nil {
		HandleValidationError(err)
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	log.Debug().Msg("Gemini client initialized")

	if err := auth.ValidateAPIKey(ctx, client, model); err != nil {
		HandleValidationError(err)
	}
	return client
}

// InitAnalyzer creates a validated client and the damage analyzer over it.
func InitAnalyzer(ctx context.Context, opts chat.AnalyzerOptions) *chat.DamageAnalyzer {
	if opts.Model == "" {
		opts.Model = chat.GetModelName()
	}
	client := InitGeminiClient(ctx, opts.Model)
	return chat.NewDamageAnalyzer(client, opts)
}
