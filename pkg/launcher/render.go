package launcher

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"path"
	"strings"
	"text/template"

	"github.com/3leaps/cloudres/internal/assets"
	"github.com/3leaps/cloudres/pkg/manifest"
	"github.com/3leaps/cloudres/pkg/samplesheet"
)

var bootstrapTmpl = template.Must(template.New("bootstrap").
	Funcs(template.FuncMap{"shellquote": ShellQuote, "base64": encodeBase64}).
	Parse(assets.BootstrapTemplate))

// Params is the JSON parameter file written next to the run on the worker.
type Params struct {
	S3Paths []string             `json:"s3_paths"`
	RunID   string               `json:"run_id"`
	Samples []samplesheet.Sample `json:"samples,omitempty"`
	Params  map[string]string    `json:"params,omitempty"`
}

// ParamsJSON renders the bundle's parameter file.
func ParamsJSON(b Bundle) ([]byte, error) {
	p := Params{
		S3Paths: b.Inputs,
		RunID:   b.RunID,
		Samples: b.Samples,
	}
	if b.Profile != nil {
		p.Params = b.Profile.Pipeline.Params
	}
	return json.MarshalIndent(p, "", "  ")
}

type bootstrapData struct {
	RunID       string
	ResultsURI  string
	MarkerURI   string
	ParamsJSON  string
	Inputs      []string
	SampleSheet string
	Worker      manifest.WorkerConfig
	Pipeline    manifest.PipelineConfig
	Params      []manifest.Param
}

// WorkerRunDir is the directory the bootstrap script downloads inputs into.
func WorkerRunDir(b Bundle) string {
	return path.Join(b.Profile.Worker.Home, "runs", b.RunID)
}

// RenderBootstrap renders the worker bootstrap shell script.
func RenderBootstrap(b Bundle) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	params, err := ParamsJSON(b)
	if err != nil {
		return "", err
	}
	sheet, err := samplesheet.Render(b.Samples, WorkerRunDir(b))
	if err != nil {
		return "", err
	}

	data := bootstrapData{
		RunID:       b.RunID,
		ResultsURI:  b.ResultsURI,
		MarkerURI:   b.MarkerURI,
		ParamsJSON:  string(params),
		Inputs:      b.Inputs,
		SampleSheet: string(sheet),
		Worker:      b.Profile.Worker,
		Pipeline:    b.Profile.Pipeline,
		Params:      b.Profile.Pipeline.SortedParams(),
	}

	var buf bytes.Buffer
	if err := bootstrapTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ShellQuote single-quotes s for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// encodeBase64 renders data files into the script as a single base64 token,
// decoded on the worker with base64 -d.
func encodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
