package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudres/pkg/artifactstore"
	"github.com/3leaps/cloudres/pkg/orchestrator"
	"github.com/3leaps/cloudres/pkg/output"
)

// testEnv is a config file pointing every backend at a temp dir.
type testEnv struct {
	dir     string
	config  string
	buckets string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)

	env := &testEnv{dir: dir, config: filepath.Join(dir, "cloudres.yaml"), buckets: filepath.Join(dir, "buckets")}
	yaml := fmt.Sprintf(`storage:
  provider: file
  base_dir: %s
registry:
  driver: file
  path: %s
launcher:
  backend: dryrun
poller:
  grace: 0s
  interval: 10ms
  attempts: 2
`, env.buckets, filepath.Join(dir, "runs"))
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o644))
	return env
}

func (e *testEnv) outputs(t *testing.T) artifactstore.Store {
	t.Helper()
	s, err := artifactstore.Open(context.Background(), artifactstore.Backend{Provider: "file", BaseDir: e.buckets}, "cloudresoutput")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (e *testEnv) reads(t *testing.T, names ...string) string {
	t.Helper()
	dir := filepath.Join(e.dir, "reads")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("@r\nACGT\n+\nIIII\n"), 0o644))
	}
	return dir
}

// execute runs the root command with fresh flag state.
func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// records decodes JSONL output into envelopes.
func records(t *testing.T, s string) []output.Record {
	t.Helper()
	var out []output.Record
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var rec output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), sc.Text())
		out = append(out, rec)
	}
	return out
}

func runStatusOf(t *testing.T, rec output.Record) string {
	t.Helper()
	var data output.RunRecord
	require.NoError(t, json.Unmarshal(rec.Data, &data))
	return data.Status
}

func TestSubmitThroughFetch(t *testing.T) {
	env := newTestEnv(t)
	dir := env.reads(t, "S1_R1.fastq.gz", "S1_R2.fastq.gz", "notes.txt")

	out, err := env.execute(t, "submit", "file://"+filepath.ToSlash(dir)+"/*.fastq.gz")
	require.NoError(t, err)
	recs := records(t, out)
	require.Len(t, recs, 1)
	assert.Equal(t, output.TypeRun, recs[0].Type)
	assert.Equal(t, "running", runStatusOf(t, recs[0]))
	runID := recs[0].RunID
	require.NotEmpty(t, runID)

	var data output.RunRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &data))
	assert.Len(t, data.Inputs, 2)
	assert.Equal(t, "dryrun", data.LaunchProvider)

	out, err = env.execute(t, "status", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:  running")
	assert.Contains(t, out, "Source:  registry")

	_, err = env.execute(t, "fetch", "result", runID)
	require.Error(t, err)
	assert.Equal(t, ExitNotReady, ExitCode(err))

	_, err = env.execute(t, "check", runID)
	assert.Equal(t, ExitNotReady, ExitCode(err))

	ctx := context.Background()
	store := env.outputs(t)
	table := "Sample\tGene\nS1\tblaCTX-M-15\n"
	require.NoError(t, store.Put(ctx, artifactstore.PrimaryResultPrefix(runID)+"abritamr.tsv", []byte(table)))
	require.NoError(t, store.Put(ctx, artifactstore.MarkerKey(runID), []byte("done")))

	out, err = env.execute(t, "check", runID)
	require.NoError(t, err)
	assert.Equal(t, "completed\n", out)

	target := filepath.Join(env.dir, "amr.tsv")
	_, err = env.execute(t, "fetch", "result", runID, "-o", target)
	require.NoError(t, err)
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, table, string(got))

	_, err = env.execute(t, "fetch", "report", runID, "--kind", "multiqc")
	assert.Equal(t, ExitNotReady, ExitCode(err))

	out, err = env.execute(t, "runs", "list", "--jsonl")
	require.NoError(t, err)
	recs = records(t, out)
	require.Len(t, recs, 2)
	assert.Equal(t, "completed", runStatusOf(t, recs[0]))
	assert.Equal(t, output.TypeSummary, recs[1].Type)

	out, err = env.execute(t, "runs", "list", "--status", "running")
	require.NoError(t, err)
	assert.NotContains(t, out, runID)
}

func TestSubmitUpload(t *testing.T) {
	env := newTestEnv(t)
	dir := env.reads(t, "S2_R1.fastq.gz", "S2_R2.fastq.gz")

	out, err := env.execute(t, "submit", "--upload",
		filepath.Join(dir, "S2_R1.fastq.gz"), filepath.Join(dir, "S2_R2.fastq.gz"))
	require.NoError(t, err)
	recs := records(t, out)
	require.Len(t, recs, 1)

	var data output.RunRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &data))
	assert.Equal(t, "running", data.Status)
	require.Len(t, data.Inputs, 2)
	assert.True(t, strings.HasSuffix(data.Inputs[0], recs[0].RunID+"/S2_R1.fastq.gz"), data.Inputs[0])
	assert.True(t, strings.HasPrefix(data.Inputs[0], "file://"), data.Inputs[0])
}

func TestSubmitWaitTimesOut(t *testing.T) {
	env := newTestEnv(t)
	dir := env.reads(t, "S3_R1.fastq.gz")

	out, err := env.execute(t, "submit", "--wait", "file://"+filepath.ToSlash(dir)+"/S3_R1.fastq.gz")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFailure, ExitCode(err))

	var types []string
	for _, r := range records(t, out) {
		types = append(types, r.Type)
	}
	assert.Contains(t, types, output.TypeTransition)
	assert.Equal(t, output.TypeRun, types[len(types)-1])
}

func TestSubmitErrors(t *testing.T) {
	env := newTestEnv(t)
	dir := env.reads(t, "S1_R1.fastq.gz")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"bad scheme", []string{"submit", "gs://bucket/reads.fastq.gz"}, foundry.ExitInvalidArgument},
		{"no matches", []string{"submit", "file://" + filepath.ToSlash(dir) + "/*.bam"}, foundry.ExitFileNotFound},
		{"missing upload", []string{"submit", "--upload", filepath.Join(dir, "absent.fastq.gz")}, foundry.ExitFileNotFound},
		{"upload directory", []string{"submit", "--upload", dir}, foundry.ExitInvalidArgument},
		{"duplicate upload names", []string{"submit", "--upload", filepath.Join(dir, "S1_R1.fastq.gz"), filepath.Join(dir, "S1_R1.fastq.gz")}, foundry.ExitInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, ExitCode(err), err.Error())
		})
	}
}

func TestLookupErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown run", []string{"status", "no-such-run"}, foundry.ExitFileNotFound},
		{"unsafe run id", []string{"status", "../etc"}, foundry.ExitInvalidArgument},
		{"bad report kind", []string{"fetch", "report", "r1", "--kind", "pdf"}, foundry.ExitInvalidArgument},
		{"bad status filter", []string{"runs", "list", "--status", "paused"}, foundry.ExitInvalidArgument},
		{"bad limit", []string{"runs", "list", "--limit", "-1"}, foundry.ExitInvalidArgument},
		{"bad launcher", []string{"status", "r1", "--launcher", "lambda"}, foundry.ExitConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, ExitCode(err), err.Error())
		})
	}
}

func TestFetchMockRun(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.execute(t, "fetch", "result", orchestrator.MockRunPrefix+"demo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.MockResultTSV, out)

	out, err = env.execute(t, "status", orchestrator.MockRunPrefix+"demo", "--json")
	require.NoError(t, err)
	var view orchestrator.StatusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, orchestrator.SourceMock, view.Source)
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)
	SetVersionInfo("1.2.3", "abc123", "2026-10-01")
	defer SetVersionInfo("dev", "unknown", "unknown")

	out, err := env.execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cloudres 1.2.3")
	assert.Contains(t, out, "abc123")

	out, err = env.execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "1.2.3"`)
}
