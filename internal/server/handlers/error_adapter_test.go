package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/cloudres/internal/errors"
	"github.com/3leaps/cloudres/pkg/orchestrator"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("GET", "/status", nil), assert.AnError)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, assert.AnError, captured)

	SetHTTPErrorResponder(nil)
	rec = httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("GET", "/status", nil), apperrors.NewNotFoundError("gone"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	customCalled := false
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		customCalled = true
	})
	ResetHTTPErrorResponder()

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("GET", "/status", nil), assert.AnError)
	assert.False(t, customCalled)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestToAppError_KeepsAppErrors(t *testing.T) {
	in := apperrors.NewValidationError("nope")
	out := toAppError(in)

	ae, ok := apperrors.As(out)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
}

func TestToAppError_ClassesSurviveWrapping(t *testing.T) {
	err := errors.Wrap(errors.Mark(errors.New("x"), orchestrator.ErrRunNotFound), "status")
	ae, ok := apperrors.As(toAppError(err))
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ae.Status)
}

func TestTestData(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reads_R1.fastq.gz"), []byte("gz"), 0o644))

	r := chi.NewRouter()
	r.Get("/api/download-test-data/{filename}", TestData(dir))

	tests := []struct {
		name string
		file string
		want int
	}{
		{"served", "reads_R1.fastq.gz", http.StatusOK},
		{"allowed but absent", "reads_R2.fastq.gz", http.StatusNotFound},
		{"not allowed", "secrets.txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download-test-data/"+tt.file, nil))
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "gz", rec.Body.String())
				assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
			}
		})
	}
}
