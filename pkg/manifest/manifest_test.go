package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, CurrentVersion, p.Version)
	assert.Equal(t, "main.nf", p.Pipeline.Entrypoint)
	assert.Equal(t, "docker", p.Pipeline.Profile)
	assert.Equal(t, "5000000", p.Pipeline.Params["genome_size"])
	assert.Equal(t, "s3://hostile/hostile", p.Pipeline.HostileDB)
	assert.Equal(t, "/home/ec2-user", p.Worker.Home)
	assert.Contains(t, p.Worker.Packages, "jq")
}

func TestLoadFromBytes_AppliesDefaults(t *testing.T) {
	p, err := LoadFromBytes([]byte(`
version: "1.0"
pipeline:
  repository: https://example.com/pipe.git
`))
	require.NoError(t, err)
	assert.Equal(t, "main.nf", p.Pipeline.Entrypoint)
	assert.Equal(t, "work", p.Pipeline.WorkDir)
	assert.Equal(t, "/home/ec2-user", p.Worker.Home)
}

func TestLoadFromBytes_JSON(t *testing.T) {
	p, err := LoadFromBytes([]byte(`{"version":"1.0","pipeline":{"repository":"r","params":{"b":"2","a":"1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, []Param{{"a", "1"}, {"b", "2"}}, p.Pipeline.SortedParams())
}

func TestLoadFromBytes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"empty", "  \n", "empty"},
		{"unknown field", "version: \"1.0\"\npipeline:\n  repository: r\n  bogus: 1\n", "bogus"},
		{"wrong version", "version: \"2.0\"\npipeline:\n  repository: r\n", "version"},
		{"missing repository", "version: \"1.0\"\npipeline: {}\n", "repository"},
		{"local hostile db", "version: \"1.0\"\npipeline:\n  repository: r\n  hostile_db: /data/hostile\n", "pipeline.hostile_db"},
		{"unknown top-level", "version: \"1.0\"\npipeline:\n  repository: r\nextra: true\n", "extra"},
		{"unsafe entrypoint", "version: \"1.0\"\npipeline:\n  repository: r\n  entrypoint: \"main.nf; rm -rf /\"\n", "pipeline.entrypoint"},
		{"bad param name", "version: \"1.0\"\npipeline:\n  repository: r\n  params:\n    \"x y\": \"1\"\n", "pipeline.params"},
		{"relative home", "version: \"1.0\"\npipeline:\n  repository: r\nworker:\n  home: tmp\n", "worker.home"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidateRaw(t *testing.T) {
	require.NoError(t, ValidateRaw([]byte(`{"version":"1.0","pipeline":{"repository":"r","params":{"genome_size":5000000}}}`)))

	err := ValidateRaw([]byte(`{"version":"1.0","pipeline":{"repository":"r","entrypoint":"x;y"}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	paths := make([]string, 0, len(verrs))
	for _, v := range verrs {
		paths = append(paths, v.Path)
	}
	assert.Contains(t, paths, "pipeline.entrypoint")

	err = ValidateRaw([]byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation error")
}

func TestPointerToPath(t *testing.T) {
	assert.Equal(t, "", pointerToPath(""))
	assert.Equal(t, "pipeline.entrypoint", pointerToPath("/pipeline/entrypoint"))
	assert.Equal(t, "pipeline.params.a/b", pointerToPath("/pipeline/params/a~1b"))
}

func TestValidationErrors(t *testing.T) {
	p := &Profile{}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.True(t, strings.HasPrefix(err.Error(), "pipeline profile validation failed with 2 errors"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\npipeline:\n  repository: r\n"), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "r", p.Pipeline.Repository)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	p, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "docker", p.Pipeline.Profile)
}
