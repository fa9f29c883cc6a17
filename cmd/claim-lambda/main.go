// Command claim-lambda serves the claim API behind API Gateway (HTTP API,
// payload v2). Claims live in DynamoDB, photos in S3, the Gemini key in SSM
// Parameter Store, and finished assessments are published to EventBridge.
//
// Endpoints are those of the server package; every route except the health
// check requires the x-origin-verify header CloudFront injects. The execution
// environment is frozen between invocations, so analyze runs to completion
// inside its request.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vehicle-claim-estimator/internal/auth"
	"github.com/fpang/vehicle-claim-estimator/internal/chat"
	"github.com/fpang/vehicle-claim-estimator/internal/config"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/lambdaboot"
	"github.com/fpang/vehicle-claim-estimator/internal/logging"
	"github.com/fpang/vehicle-claim-estimator/internal/server"
	"github.com/fpang/vehicle-claim-estimator/internal/session"
)

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	clients := lambdaboot.InitAWS(ctx, cfg.Region)
	claims := lambdaboot.InitDynamo(clients.Config, cfg.Table, cfg.SessionTTL)
	images := lambdaboot.InitS3ImageStore(clients.Config, cfg.Bucket)
	publisher := lambdaboot.InitEvents(clients.Config, cfg.EventBus)

	if err := lambdaboot.LoadGeminiKey(ctx, clients.SSM, cfg.APIKeyParam); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	apiKey, err := auth.GetAPIKey(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Gemini API key unavailable")
	}
	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	analyzer := chat.NewDamageAnalyzer(client, cfg.AnalyzerOptions())

	mgr := session.NewManager(session.Options{
		Analyzer:        analyzer,
		Decoder:         filehandler.ImageDecoder{Options: cfg.DecodeOptions()},
		Claims:          claims,
		Images:          images,
		Publisher:       publisher,
		TTL:             cfg.SessionTTL,
		MaxSessions:     cfg.MaxSessions,
		AnalysisTimeout: cfg.AnalysisTimeout,
		CompletedDelay:  cfg.CompletedDelay,
	})

	if cfg.OriginSecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set; origin verification disabled")
	}
	handler = server.New(mgr, server.Options{
		Version:        commitHash,
		AllowedOrigins: cfg.AllowedOrigins,
		OriginSecret:   cfg.OriginSecret,
		MaxUploadBytes: cfg.MaxImageBytes,
		SyncAnalysis:   true,
	}).Handler()

	lambdaboot.StartupLog("claim-lambda", initStart).
		Version(commitHash+" ("+buildTime+")").
		DynamoTable("claims", claims.TableName()).
		S3Bucket("images", images.Bucket()).
		SSMParam("apiKey", cfg.APIKeyParam).
		EventBus("events", cfg.EventBus).
		Config("model", analyzer.Model()).
		Config("market", cfg.Market).
		Feature("originVerify", cfg.OriginSecret != "").
		Feature("events", cfg.EventBus != "").
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
