// Command claim-cli estimates vehicle damage for a single photo from the
// terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/claim"
	"github.com/fpang/vehicle-claim-estimator/internal/cli"
	"github.com/fpang/vehicle-claim-estimator/internal/config"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// CLI flags
var (
	jsonFlag     bool
	modelFlag    string
	marketFlag   string
	currencyFlag string
	timeoutFlag  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "claim-cli",
	Short: "AI damage estimates for vehicle insurance claims",
	Long: `Claim CLI sends a photo of a damaged vehicle to Gemini and prints an
itemized repair estimate with a payout recommendation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		logging.Init()
		return nil
	},
	SilenceUsage: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [image]",
	Short: "Estimate the damage shown in a photo",
	Long: `Analyze a photo of a damaged vehicle. Without an image argument a native
file picker opens; on headless systems the path is read from the terminal.

Examples:
  claim-cli analyze ./photos/bumper.jpg
  claim-cli analyze --json ./photos/bumper.jpg > report.json
  claim-cli analyze --market Kenya --currency KES`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the report as JSON")
	analyzeCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use")
	analyzeCmd.Flags().StringVar(&marketFlag, "market", "", "Repair market the estimate is priced for")
	analyzeCmd.Flags().StringVar(&currencyFlag, "currency", "", "ISO currency code of the estimate")
	analyzeCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Analysis timeout (default $CLAIM_ANALYSIS_TIMEOUT or 90s)")
	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
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
	if timeoutFlag > 0 {
		cfg.AnalysisTimeout = timeoutFlag
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	} else if path, err = cli.SelectImage(os.Stdin, os.Stderr); err != nil {
		return err
	}
	if path, err = cli.ValidateImagePath(path); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer := cli.InitAnalyzer(ctx, cfg.AnalyzerOptions())
	ctrl := claim.NewController(claim.Options{
		Analyzer:        analyzer,
		Decoder:         filehandler.ImageDecoder{Options: cfg.DecodeOptions()},
		AnalysisTimeout: cfg.AnalysisTimeout,
		Name:            path,
	})

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	s := ctrl.SelectImage(ctx, f.Name(), f)
	f.Close()
	if s.Status == claim.StatusError {
		return errors.New(s.Error)
	}

	log.Info().Str("path", path).Str("model", analyzer.Model()).Msg("Analyzing claim photo")
	start := time.Now()
	s = ctrl.StartAnalysis(ctx)
	if s.Status != claim.StatusCompleted {
		return errors.New(s.Error)
	}
	log.Info().Str("elapsed", cli.FormatDurationShort(time.Since(start))).Msg("Estimate ready")

	if jsonFlag {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s.Report)
	}
	return cli.FormatReport(cmd.OutOrStdout(), s.Report)
}
