// Package mcpserver exposes the damage estimate as a Model Context Protocol
// tool so assistants can price a claim photo directly.
package mcpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/claim"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// ToolName is the name of the estimate tool.
const ToolName = "estimate_vehicle_damage"

// EstimateInput is the tool input. Exactly one of Path and ImageDataURI is
// required.
type EstimateInput struct {
	Path         string `json:"path,omitempty" jsonschema:"absolute path of a photo of the damaged vehicle"`
	ImageDataURI string `json:"imageDataUri,omitempty" jsonschema:"the photo as a base64 data URI, used when no path is given"`
}

// EstimateOutput is the structured tool result.
type EstimateOutput struct {
	Report   *report.DamageReport `json:"report"`
	Filename string               `json:"filename,omitempty"`
	Resized  bool                 `json:"resized,omitempty"`
}

// Options configures the tool.
type Options struct {
	Analyzer        claim.Analyzer
	Decoder         claim.Decoder
	AnalysisTimeout time.Duration
}

// NewServer creates an MCP server with the estimate tool registered.
func NewServer(version string, opts Options) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "vehicle-claim-estimator", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name: ToolName,
		Description: "Estimate repair costs and payout eligibility for a vehicle insurance claim " +
			"from one photo of the damaged vehicle. Returns an itemized damage report.",
	}, NewEstimateHandler(opts))
	return server
}

// NewEstimateHandler returns the tool handler. Each call runs its own claim
// through select-photo and analyze.
func NewEstimateHandler(opts Options) mcp.ToolHandlerFor[EstimateInput, EstimateOutput] {
	if opts.Decoder == nil {
		opts.Decoder = filehandler.ImageDecoder{}
	}
	return func(ctx context.Context, req *mcp.CallToolRequest, in EstimateInput) (*mcp.CallToolResult, EstimateOutput, error) {
		filename, data, err := readInput(in)
		if err != nil {
			return nil, EstimateOutput{}, err
		}

		ctrl := claim.NewController(claim.Options{
			Analyzer:        opts.Analyzer,
			Decoder:         opts.Decoder,
			AnalysisTimeout: opts.AnalysisTimeout,
			Name:            "mcp:" + filename,
		})
		defer ctrl.Close()

		s := ctrl.SelectImage(ctx, filename, bytes.NewReader(data))
		if s.Status == claim.StatusError {
			return nil, EstimateOutput{}, errors.New(s.Error)
		}
		s = ctrl.StartAnalysis(ctx)
		if s.Status != claim.StatusCompleted {
			return nil, EstimateOutput{}, errors.New(s.Error)
		}

		log.Info().Str("filename", filename).Float64("total", s.Report.TotalEstimatedCost).Msg("MCP estimate complete")
		return nil, EstimateOutput{Report: s.Report, Filename: s.Image.Filename, Resized: s.Image.Resized}, nil
	}
}

func readInput(in EstimateInput) (string, []byte, error) {
	path := strings.TrimSpace(in.Path)
	uri := strings.TrimSpace(in.ImageDataURI)
	switch {
	case path != "" && uri != "":
		return "", nil, errors.New("give either path or imageDataUri, not both")
	case path != "":
		if !filepath.IsAbs(path) {
			return "", nil, fmt.Errorf("path must be absolute: %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("read photo: %w", err)
		}
		return filepath.Base(path), data, nil
	case uri != "":
		p, err := filehandler.ParseDataURI(uri)
		if err != nil {
			return "", nil, err
		}
		return "upload" + p.Extension(), p.Data, nil
	default:
		return "", nil, errors.New("path or imageDataUri is required")
	}
}
