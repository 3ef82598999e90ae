package match

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErr     error
		wantErrType interface{}
	}{
		{name: "valid single include", cfg: Config{Includes: []string{"results/**"}}},
		{name: "valid with excludes", cfg: Config{Includes: []string{"**"}, Excludes: []string{"**/work/**"}}},
		{name: "no includes", cfg: Config{}, wantErr: ErrNoIncludes},
		{name: "invalid include pattern", cfg: Config{Includes: []string{"[invalid"}}, wantErrType: &PatternError{}},
		{name: "invalid exclude pattern", cfg: Config{Includes: []string{"**"}, Excludes: []string{"[invalid"}}, wantErrType: &PatternError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, m)
			case tt.wantErrType != nil:
				require.Error(t, err)
				assert.IsType(t, tt.wantErrType, err)
				assert.True(t, errors.Is(err, ErrInvalidPattern))
			default:
				require.NoError(t, err)
				assert.NotNil(t, m)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"**/*.tsv"},
		Excludes: []string{"work/**"},
	})
	require.NoError(t, err)

	tests := []struct {
		key  string
		want bool
	}{
		{"abritamr.tsv", true},
		{"csvtk/abritamr.tsv", true},
		{"work/ab/abritamr.tsv", false},
		{".nextflow/abritamr.tsv", false},
		{"csvtk/abritamr.csv", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.key))
		})
	}

	hidden, err := New(Config{Includes: []string{"**"}, IncludeHidden: true})
	require.NoError(t, err)
	assert.True(t, hidden.Match(".nextflow/log"))
}

func TestMatcher_FilterSorted(t *testing.T) {
	m, err := New(Config{Includes: []string{"*.html"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.html", "b.html"}, m.Filter([]string{"b.html", "x.txt", "a.html"}))
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"results/csvtk/**", "results/csvtk/**"},
		{`results\csvtk\**`, "results/csvtk/**"},
		{`data/file\*.txt`, `data/file\*.txt`},
		{`results\csvtk\**\*.tsv`, `results/csvtk/**\*.tsv`},
		{`a\**`, "a/**"},
		{`\*`, `\*`},
		{`trailing\`, "trailing/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePattern(tt.in), tt.in)
	}
}

func TestEscapeLiteral(t *testing.T) {
	assert.Equal(t, "run-1", EscapeLiteral("run-1"))
	assert.Equal(t, `a\*b\[1\]`, EscapeLiteral("a*b[1]"))

	m, err := New(Config{Includes: []string{EscapeLiteral("a*b") + "/x"}})
	require.NoError(t, err)
	assert.True(t, m.Match("a*b/x"))
	assert.False(t, m.Match("aZZb/x"))
}

func TestDerivePrefix(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"", ""},
		{"runs/abc/*.fastq.gz", "runs/abc/"},
		{"runs/abc-*/reads.gz", "runs/"},
		{"*.fastq.gz", ""},
		{"runs/abc/reads.gz", "runs/abc/reads.gz"},
		{`runs/reads\*.gz`, "runs/reads*.gz"},
		{`runs/a\*/b/*.gz`, "runs/a*/b/"},
		{"runs/{a,b}/x", "runs/"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePrefix(tt.pattern))
		})
	}
}

func TestIsGlobPattern(t *testing.T) {
	assert.True(t, IsGlobPattern("runs/*.gz"))
	assert.True(t, IsGlobPattern("runs/r?.gz"))
	assert.True(t, IsGlobPattern("runs/[ab].gz"))
	assert.False(t, IsGlobPattern("runs/r1.gz"))
	assert.False(t, IsGlobPattern(`runs/r\*.gz`))
}

func TestIsHidden(t *testing.T) {
	assert.False(t, IsHidden("path/to/file.txt"))
	assert.True(t, IsHidden(".hidden/file.txt"))
	assert.True(t, IsHidden("path/to/.gitignore"))
	assert.False(t, IsHidden("path/to/file.txt."))
	assert.False(t, IsHidden(""))
}

func TestPrimaryResultSelection(t *testing.T) {
	sel := PrimaryResult.MustCompile()
	prefix := "run-1/results/csvtk/"

	tests := []struct {
		name   string
		keys   []string
		want   string
		wantOK bool
	}{
		{
			name:   "top level",
			keys:   []string{"run-1/results/csvtk/abritamr.tsv"},
			want:   "run-1/results/csvtk/abritamr.tsv",
			wantOK: true,
		},
		{
			name: "multiple depths picks first",
			keys: []string{
				"run-1/results/csvtk/z/abritamr.tsv",
				"run-1/results/csvtk/b/abritamr.tsv",
			},
			want:   "run-1/results/csvtk/b/abritamr.tsv",
			wantOK: true,
		},
		{
			name:   "substring is not an exact basename",
			keys:   []string{"run-1/results/csvtk/old_abritamr.tsv", "run-1/results/csvtk/abritamr.tsv.bak"},
			wantOK: false,
		},
		{
			name:   "other run ignored",
			keys:   []string{"run-10/results/csvtk/abritamr.tsv"},
			wantOK: false,
		},
		{name: "empty", keys: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sel.Select(prefix, tt.keys)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutionReportSelection(t *testing.T) {
	sel := ExecutionReport.MustCompile()
	keys := []string{
		"run-1/results/pipeline_info/execution_report_2026-01-19_10-00-00.html",
		"run-1/results/pipeline_info/execution_report_2026-01-19_12-30-00.html",
		"run-1/results/pipeline_info/execution_timeline_2026-01-19_12-30-00.html",
		"run-1/results/pipeline_info/execution_report_2026-01-19_12-30-00.txt",
	}
	got, ok := sel.Select("run-1/results/pipeline_info", keys)
	require.True(t, ok)
	assert.Equal(t, "run-1/results/pipeline_info/execution_report_2026-01-19_12-30-00.html", got)
	assert.Len(t, sel.Candidates("run-1/results/pipeline_info/", keys), 2)
}

func TestSelectionIsOrderIndependent(t *testing.T) {
	keys := []string{
		"r/results/csvtk/c/abritamr.tsv",
		"r/results/csvtk/a/abritamr.tsv",
		"r/results/csvtk/b/abritamr.tsv",
		"r/results/csvtk/abritamr.tsv",
	}
	sel := PrimaryResult.MustCompile()
	want, ok := sel.Select("r/results/csvtk/", keys)
	require.True(t, ok)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]string(nil), keys...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, _ := sel.Select("r/results/csvtk/", shuffled)
		assert.Equal(t, want, got)
	}
}

func TestOrderString(t *testing.T) {
	assert.Equal(t, "first", First.String())
	assert.Equal(t, "last", Last.String())
}

func BenchmarkSelector_Select(b *testing.B) {
	sel := PrimaryResult.MustCompile()
	keys := []string{
		"run-1/results/csvtk/a/abritamr.tsv",
		"run-1/results/csvtk/b/other.tsv",
		"run-1/results/csvtk/abritamr.tsv",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sel.Select("run-1/results/csvtk/", keys)
	}
}
