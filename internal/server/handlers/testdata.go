package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/cloudres/internal/errors"
)

// TestDataFiles are the example paired reads offered for download.
var TestDataFiles = []string{"reads_R1.fastq.gz", "reads_R2.fastq.gz"}

// TestData serves the example reads from dir:
// GET /api/download-test-data/{filename}.
func TestData(dir string) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(TestDataFiles))
	for _, name := range TestDataFiles {
		allowed[name] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		if _, ok := allowed[name]; !ok {
			respondWithError(w, r, apperrors.NewValidationError("invalid filename"))
			return
		}

		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				respondWithError(w, r, apperrors.NewNotFoundError("file not found: "+name))
				return
			}
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "open test data"))
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "stat test data"))
			return
		}

		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}
