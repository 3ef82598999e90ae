package handlers

import (
	"net/http"

	"github.com/cockroachdb/errors"

	apperrors "github.com/3leaps/cloudres/internal/errors"
	"github.com/3leaps/cloudres/pkg/orchestrator"
)

// HTTPErrorResponder writes err as a response.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the responder. nil restores the default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// toAppError maps orchestrator error classes onto HTTP statuses.
func toAppError(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRunID):
		return apperrors.Wrap(err, apperrors.CodeValidation, http.StatusBadRequest, "invalid run_id")
	case errors.Is(err, orchestrator.ErrNoInputs):
		return apperrors.Wrap(err, apperrors.CodeValidation, http.StatusBadRequest, "no input files")
	case errors.Is(err, orchestrator.ErrInvalidInput):
		return apperrors.Wrap(err, apperrors.CodeValidation, http.StatusBadRequest, "invalid input")
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return apperrors.Wrap(err, apperrors.CodeNotFound, http.StatusNotFound, "run not found")
	case errors.Is(err, orchestrator.ErrLaunch):
		return apperrors.Wrap(err, apperrors.CodeLaunchFailed, http.StatusBadGateway, "pipeline launch failed")
	case errors.Is(err, orchestrator.ErrRetrievalFailure):
		return apperrors.Wrap(err, apperrors.CodeRetrievalFailed, http.StatusInternalServerError, "artifact retrieval failed")
	}
	return apperrors.Wrap(err, apperrors.CodeInternal, http.StatusInternalServerError, "internal server error")
}
