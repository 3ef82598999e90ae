package launcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"go.uber.org/zap"

	"github.com/3leaps/cloudres/pkg/run"
)

// BatchAPI is the subset of the Batch client used by Batch.
type BatchAPI interface {
	SubmitJob(ctx context.Context, in *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
}

// BatchConfig selects the queue and job definition.
type BatchConfig struct {
	JobQueue      string
	JobDefinition string

	// Profile is the Nextflow profile used inside the job. Default: awsbatch.
	Profile string

	Tags map[string]string
}

// Batch submits one job per run. The job definition's container runs
// Nextflow directly; the command is overridden per run.
type Batch struct {
	client BatchAPI
	cfg    BatchConfig
	logger *zap.Logger
	now    func() time.Time
}

var _ Launcher = (*Batch)(nil)

// NewBatch returns a Batch launcher.
func NewBatch(client BatchAPI, cfg BatchConfig, logger *zap.Logger) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobQueue == "" {
		cfg.JobQueue = "nextflow-job-queue"
	}
	if cfg.JobDefinition == "" {
		cfg.JobDefinition = "nextflow-job-def"
	}
	if cfg.Profile == "" {
		cfg.Profile = "awsbatch"
	}
	return &Batch{client: client, cfg: cfg, logger: logger, now: time.Now}
}

// Command builds the container command override for b.
func (l *Batch) Command(b Bundle) []string {
	p := b.Profile.Pipeline
	cmd := []string{"nextflow", "run", p.Repository, "-main-script", p.Entrypoint}
	if p.Revision != "" {
		cmd = append(cmd, "-r", p.Revision)
	}
	cmd = append(cmd,
		"-profile", l.cfg.Profile,
		"-work-dir", p.WorkDir,
		"--fastq_paths", strings.Join(b.Inputs, ","),
		"--outdir", b.ResultsURI,
	)
	if p.HostileDB != "" {
		cmd = append(cmd, "--hostile_db", p.HostileDB)
	}
	for _, param := range p.SortedParams() {
		cmd = append(cmd, "--"+param.Name, param.Value)
	}
	return cmd
}

// Launch calls SubmitJob once.
func (l *Batch) Launch(ctx context.Context, b Bundle) (run.LaunchInfo, error) {
	if err := b.Validate(); err != nil {
		return run.LaunchInfo{}, err
	}
	params, err := ParamsJSON(b)
	if err != nil {
		return run.LaunchInfo{}, err
	}

	tags := map[string]string{"cloudres:run_id": b.RunID}
	for k, v := range l.cfg.Tags {
		tags[k] = v
	}

	out, err := l.client.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String("cloudres-" + b.RunID),
		JobQueue:      aws.String(l.cfg.JobQueue),
		JobDefinition: aws.String(l.cfg.JobDefinition),
		ContainerOverrides: &types.ContainerOverrides{
			Command: l.Command(b),
			Environment: []types.KeyValuePair{
				{Name: aws.String("CLOUDRES_RUN_ID"), Value: aws.String(b.RunID)},
				{Name: aws.String("CLOUDRES_MARKER_URI"), Value: aws.String(b.MarkerURI)},
				{Name: aws.String("CLOUDRES_PARAMS"), Value: aws.String(string(params))},
			},
		},
		Tags: tags,
	})
	if err != nil {
		return run.LaunchInfo{}, &LaunchError{Backend: BackendBatch, RunID: b.RunID, Err: err}
	}
	if out == nil || out.JobId == nil {
		return run.LaunchInfo{}, &LaunchError{Backend: BackendBatch, RunID: b.RunID, Err: errors.New("no job id returned")}
	}

	id := aws.ToString(out.JobId)
	l.logger.Info("submitted batch job",
		zap.String("run_id", b.RunID),
		zap.String("job_id", id),
		zap.String("job_queue", l.cfg.JobQueue),
	)

	return run.LaunchInfo{
		Provider:   BackendBatch,
		ID:         id,
		LaunchedAt: l.now().UTC(),
		Metadata: map[string]string{
			"job_arn":   aws.ToString(out.JobArn),
			"job_queue": l.cfg.JobQueue,
		},
	}, nil
}
