// Command claim-web runs the claim API on a local port with in-memory
// session storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/cli"
	"github.com/fpang/vehicle-claim-estimator/internal/config"
	"github.com/fpang/vehicle-claim-estimator/internal/events"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/logging"
	"github.com/fpang/vehicle-claim-estimator/internal/server"
	"github.com/fpang/vehicle-claim-estimator/internal/session"
	"github.com/fpang/vehicle-claim-estimator/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

// CLI flags
var (
	portFlag     int
	modelFlag    string
	marketFlag   string
	currencyFlag string
	envFileFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "claim-web",
	Short: "Local API server for vehicle damage claims",
	Long: `Claim Web starts a local HTTP server exposing the claim API: create a
claim, upload a photo of the damaged vehicle, start the AI estimate and poll
for the report.

Examples:
  claim-web
  claim-web --port 9090
  claim-web --market Ghana --currency GHS`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (default $PORT or 8080)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use")
	rootCmd.Flags().StringVar(&marketFlag, "market", "", "Repair market the estimate is priced for")
	rootCmd.Flags().StringVar(&currencyFlag, "currency", "", "ISO currency code of the estimate")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Environment file to load before reading configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	if err := config.LoadDotEnv(envFileFlag); err != nil {
		return err
	}
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if marketFlag != "" {
		cfg.Market = marketFlag
	}
	if currencyFlag != "" {
		cfg.Currency = currencyFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer := cli.InitAnalyzer(ctx, cfg.AnalyzerOptions())

	mgr := session.NewManager(session.Options{
		Analyzer:        analyzer,
		Decoder:         filehandler.ImageDecoder{Options: cfg.DecodeOptions()},
		Claims:          store.NewMemoryStore(cfg.SessionTTL),
		Images:          store.NewMemoryImageStore(),
		Publisher:       events.LogPublisher{},
		TTL:             cfg.SessionTTL,
		MaxSessions:     cfg.MaxSessions,
		AnalysisTimeout: cfg.AnalysisTimeout,
		CompletedDelay:  cfg.CompletedDelay,
	})
	defer mgr.Close()

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: server.New(mgr, server.Options{
			Version:        version,
			AllowedOrigins: cfg.AllowedOrigins,
			OriginSecret:   cfg.OriginSecret,
			MaxUploadBytes: cfg.MaxImageBytes,
		}).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logging.NewStartupLogger("claim-web").
		Version(version).
		Config("model", analyzer.Model()).
		Config("market", cfg.Market).
		Config("currency", cfg.Currency).
		Config("port", fmt.Sprint(cfg.Port)).
		Feature("originVerify", cfg.OriginSecret != "").
		InitDuration(time.Since(initStart)).
		Log()

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	fmt.Printf("\n  Claim API: http://localhost:%d/api/health\n\n", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
