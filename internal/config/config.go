// Package config loads runtime configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/vehicle-claim-estimator/internal/assets"
	"github.com/fpang/vehicle-claim-estimator/internal/chat"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every setting shared by the binaries. Flags override fields
// after Load.
type Config struct {
	// Analysis
	Model           string
	Market          string
	Currency        string
	AnalysisTimeout time.Duration
	CompletedDelay  time.Duration

	// Image intake
	MaxImageBytes int64
	MaxDimension  int

	// Sessions
	SessionTTL  time.Duration
	MaxSessions int

	// HTTP
	Port           int
	AllowedOrigins []string
	OriginSecret   string

	// AWS
	Region      string
	Table       string
	Bucket      string
	EventBus    string
	APIKeyParam string
}

// Defaults.
const (
	DefaultMarket          = "Nigeria"
	DefaultCurrency        = "NGN"
	DefaultAnalysisTimeout = 90 * time.Second
	DefaultCompletedDelay  = 300 * time.Millisecond
	DefaultSessionTTL      = 24 * time.Hour
	DefaultMaxSessions     = 1000
	DefaultPort            = 8080
	DefaultAPIKeyParam     = "/vehicle-claim-estimator/prod/gemini-api-key"
	DefaultMaxImageBytes   = 20 << 20
	DefaultMaxDimension    = 2048
)

// Load reads the configuration from the environment. Malformed values are
// reported together rather than silently replaced with defaults.
func Load() (Config, error) {
	var errs []error
	c := Config{
		Model:        firstEnv("CLAIM_GEMINI_MODEL", "GEMINI_MODEL"),
		Market:       get("CLAIM_MARKET", DefaultMarket),
		Currency:     strings.ToUpper(get("CLAIM_CURRENCY", DefaultCurrency)),
		OriginSecret: os.Getenv("ORIGIN_VERIFY_SECRET"),
		Region:       get("AWS_REGION", ""),
		Table:        os.Getenv("CLAIM_TABLE"),
		Bucket:       os.Getenv("CLAIM_BUCKET"),
		EventBus:     os.Getenv("CLAIM_EVENT_BUS"),
		APIKeyParam:  get("SSM_API_KEY_PARAM", DefaultAPIKeyParam),
	}

	c.AnalysisTimeout = duration("CLAIM_ANALYSIS_TIMEOUT", DefaultAnalysisTimeout, &errs)
	c.CompletedDelay = duration("CLAIM_COMPLETED_DELAY", DefaultCompletedDelay, &errs)
	c.SessionTTL = duration("CLAIM_SESSION_TTL", DefaultSessionTTL, &errs)
	c.MaxSessions = integer("CLAIM_MAX_SESSIONS", DefaultMaxSessions, &errs)
	c.MaxImageBytes = int64(integer("CLAIM_MAX_IMAGE_BYTES", DefaultMaxImageBytes, &errs))
	c.MaxDimension = integer("CLAIM_MAX_DIMENSION", DefaultMaxDimension, &errs)
	c.Port = integer("PORT", DefaultPort, &errs)
	c.AllowedOrigins = list("CLAIM_CORS_ORIGINS")

	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("CLAIM_SESSION_TTL must be positive"))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, errors.New("CLAIM_MAX_SESSIONS must be positive"))
	}
	return c, errors.Join(errs...)
}

// DecodeOptions returns the image intake limits.
func (c Config) DecodeOptions() filehandler.DecodeOptions {
	return filehandler.DecodeOptions{MaxBytes: c.MaxImageBytes, MaxDimension: c.MaxDimension}
}

// AnalyzerOptions returns the Gemini analyzer settings.
func (c Config) AnalyzerOptions() chat.AnalyzerOptions {
	return chat.AnalyzerOptions{
		Model:  c.Model,
		Market: assets.MarketContext{Market: c.Market, Currency: c.Currency},
	}
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		switch {
		case err == nil:
			log.Debug().Str("file", f).Msg("Loaded environment file")
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func get(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func duration(k string, def time.Duration, errs *[]error) time.Duration {
	v := get(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func integer(k string, def int, errs *[]error) int {
	v := get(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func list(k string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(k), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
