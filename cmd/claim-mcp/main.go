// Command claim-mcp serves the estimate_vehicle_damage tool over the Model
// Context Protocol on stdin/stdout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fpang/vehicle-claim-estimator/internal/cli"
	"github.com/fpang/vehicle-claim-estimator/internal/config"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/logging"
	"github.com/fpang/vehicle-claim-estimator/internal/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

var modelFlag string

var rootCmd = &cobra.Command{
	Use:   "claim-mcp",
	Short: "MCP server exposing vehicle damage estimates",
	Long: `Claim MCP speaks the Model Context Protocol over stdio and offers one
tool, estimate_vehicle_damage, which takes a photo path or data URI and
returns an itemized damage report.

Logs go to stderr; stdout carries protocol messages only.`,
	RunE:         runMain,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer := cli.InitAnalyzer(ctx, cfg.AnalyzerOptions())
	server := mcpserver.NewServer(version, mcpserver.Options{
		Analyzer:        analyzer,
		Decoder:         filehandler.ImageDecoder{Options: cfg.DecodeOptions()},
		AnalysisTimeout: cfg.AnalysisTimeout,
	})

	log.Info().Str("model", analyzer.Model()).Msg("MCP server ready on stdio")
	return server.Run(ctx, &mcp.StdioTransport{})
}
