package launcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/pkg/run"
)

// maxUserDataBytes is the EC2 limit on base64-decoded user data.
const maxUserDataBytes = 16 * 1024

// EC2API is the subset of the EC2 client used by EC2.
type EC2API interface {
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
}

// EC2Config selects the launch template the worker starts from.
type EC2Config struct {
	LaunchTemplateID      string
	LaunchTemplateVersion string

	// InstanceType overrides the template's instance type when set.
	InstanceType string

	// Tags are applied to the instance in addition to the run id tag.
	Tags map[string]string
}

// EC2 launches one instance per run with the bootstrap script as user data.
type EC2 struct {
	client EC2API
	cfg    EC2Config
	region string
	logger *zap.Logger
	now    func() time.Time
}

var _ Launcher = (*EC2)(nil)

// NewEC2 returns an EC2 launcher.
func NewEC2(client EC2API, cfg EC2Config, region string, logger *zap.Logger) *EC2 {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LaunchTemplateVersion == "" {
		cfg.LaunchTemplateVersion = "$Latest"
	}
	return &EC2{client: client, cfg: cfg, region: region, logger: logger, now: time.Now}
}

// Launch renders the bootstrap and calls RunInstances once.
func (l *EC2) Launch(ctx context.Context, b Bundle) (run.LaunchInfo, error) {
	script, err := RenderBootstrap(b)
	if err != nil {
		return run.LaunchInfo{}, err
	}
	if len(script) > maxUserDataBytes {
		return run.LaunchInfo{}, &LaunchError{
			Backend: BackendEC2,
			RunID:   b.RunID,
			Err:     fmt.Errorf("user data is %d bytes, limit %d", len(script), maxUserDataBytes),
		}
	}

	input := &ec2.RunInstancesInput{
		MinCount: aws.Int32(1),
		MaxCount: aws.Int32(1),
		LaunchTemplate: &types.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(l.cfg.LaunchTemplateID),
			Version:          aws.String(l.cfg.LaunchTemplateVersion),
		},
		UserData: aws.String(base64.StdEncoding.EncodeToString([]byte(script))),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         instanceTags(b.RunID, l.cfg.Tags),
		}},
	}
	if l.cfg.InstanceType != "" {
		input.InstanceType = types.InstanceType(l.cfg.InstanceType)
	}

	out, err := l.client.RunInstances(ctx, input)
	if err != nil {
		return run.LaunchInfo{}, &LaunchError{Backend: BackendEC2, RunID: b.RunID, Err: err}
	}
	if out == nil || len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return run.LaunchInfo{}, &LaunchError{Backend: BackendEC2, RunID: b.RunID, Err: errors.New("no instance returned")}
	}

	id := aws.ToString(out.Instances[0].InstanceId)
	l.logger.Info("launched worker instance",
		zap.String("run_id", b.RunID),
		zap.String("instance_id", id),
		zap.String("launch_template", l.cfg.LaunchTemplateID),
	)

	return run.LaunchInfo{
		Provider:   BackendEC2,
		ID:         id,
		LaunchedAt: l.now().UTC(),
		Metadata: map[string]string{
			"launch_template": l.cfg.LaunchTemplateID,
			"region":          l.region,
		},
	}, nil
}

func instanceTags(runID string, extra map[string]string) []types.Tag {
	tags := []types.Tag{
		{Key: aws.String("Name"), Value: aws.String("cloudres-" + runID)},
		{Key: aws.String("cloudres:run_id"), Value: aws.String(runID)},
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(extra[k])})
	}
	return tags
}
