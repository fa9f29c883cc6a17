// Package lambdaboot holds the cold-start bootstrap shared by the Lambda
// entry point: AWS config, the DynamoDB and S3 stores, the EventBridge
// publisher, the Gemini API key from SSM, and startup logging.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vehicle-claim-estimator/internal/auth"
	"github.com/fpang/vehicle-claim-estimator/internal/events"
	"github.com/fpang/vehicle-claim-estimator/internal/logging"
	"github.com/fpang/vehicle-claim-estimator/internal/store"
)

// AWSClients holds the AWS config and the SSM client used at cold start.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. region overrides the config's
// region when set. Fatals on error.
func InitAWS(ctx context.Context, region string) AWSClients {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitDynamo creates the DynamoDB claim store. Fatals if table is empty.
func InitDynamo(cfg aws.Config, table string, ttl time.Duration) *store.DynamoStore {
	if table == "" {
		log.Fatal().Msg("CLAIM_TABLE environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table, ttl)
}

// InitS3ImageStore creates the S3 photo store. Fatals if bucket is empty.
func InitS3ImageStore(cfg aws.Config, bucket string) *store.S3ImageStore {
	if bucket == "" {
		log.Fatal().Msg("CLAIM_BUCKET environment variable is required")
	}
	return store.NewS3ImageStore(s3.NewFromConfig(cfg), bucket)
}

// InitEvents returns an EventBridge publisher for bus, or a publisher that
// only logs when no bus is configured.
func InitEvents(cfg aws.Config, bus string) events.Publisher {
	if bus == "" {
		log.Warn().Msg("CLAIM_EVENT_BUS not set; ClaimAssessed events will only be logged")
		return events.LogPublisher{}
	}
	return events.NewEventBridgePublisher(eventbridge.NewFromConfig(cfg), bus)
}

// ParameterAPI is the SSM operation used to read the API key.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey reads the Gemini API key from the SSM parameter param and
// exports it as GEMINI_API_KEY, unless that variable is already set.
func LoadGeminiKey(ctx context.Context, client ParameterAPI, param string) error {
	if os.Getenv(auth.APIKeyEnv) != "" {
		return nil
	}
	if param == "" {
		return errors.New("no SSM parameter configured for the Gemini API key")
	}

	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &param,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read SSM parameter %s: %w", param, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return fmt.Errorf("SSM parameter %s is empty", param)
	}
	if err := os.Setenv(auth.APIKeyEnv, aws.ToString(result.Parameter.Value)); err != nil {
		return fmt.Errorf("export %s: %w", auth.APIKeyEnv, err)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return nil
}

// StartupLog returns a startup logger stamped with the init duration.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
