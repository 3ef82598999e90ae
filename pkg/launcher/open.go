package launcher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"go.uber.org/zap"
)

// Config selects and configures a launcher backend.
type Config struct {
	// Backend is "ec2", "batch" or "dryrun".
	Backend string

	Region  string
	Profile string

	EC2   EC2Config
	Batch BatchConfig
}

// IMDSAPI is the subset of the instance metadata client used for region
// discovery.
type IMDSAPI interface {
	GetRegion(ctx context.Context, in *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// ResolveRegion returns configured when set, otherwise asks the instance
// metadata service. The server usually runs on EC2 next to its workers.
func ResolveRegion(ctx context.Context, configured string, client IMDSAPI) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if client == nil {
		return "", fmt.Errorf("region not configured and no metadata client available")
	}
	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("region not configured and metadata lookup failed: %w", err)
	}
	return out.Region, nil
}

// Open builds the configured launcher. dryRunStore is used only by the dryrun
// backend.
func Open(ctx context.Context, cfg Config, dryRunStore ObjectWriter, logger *zap.Logger) (Launcher, error) {
	switch cfg.Backend {
	case BackendDryRun:
		if dryRunStore == nil {
			return nil, fmt.Errorf("dryrun launcher requires an output store")
		}
		return NewDryRun(dryRunStore, logger), nil
	case BackendEC2, BackendBatch:
	default:
		return nil, fmt.Errorf("unsupported launcher backend %q", cfg.Backend)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Backend == BackendBatch {
		return NewBatch(batch.NewFromConfig(awsCfg), cfg.Batch, logger), nil
	}
	if cfg.EC2.LaunchTemplateID == "" {
		return nil, fmt.Errorf("ec2 launcher requires a launch template id")
	}
	return NewEC2(ec2.NewFromConfig(awsCfg), cfg.EC2, awsCfg.Region, logger), nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		region, err := ResolveRegion(ctx, "", imds.NewFromConfig(awsCfg))
		if err != nil {
			return aws.Config{}, err
		}
		awsCfg.Region = region
	}
	return awsCfg, nil
}
