package orchestrator

import (
	"github.com/cockroachdb/errors"
)

// Error classes. Concrete errors are marked with one of these so errors.Is
// keeps working through any amount of wrapping.
var (
	// ErrLaunch ends a run: the launcher refused or failed. Never retried.
	ErrLaunch = errors.New("launch failed")

	// ErrTransientStore is a store failure during polling. It counts as "not
	// found" for that attempt.
	ErrTransientStore = errors.New("transient store error")

	// ErrPollTimeout is recorded as TimedOut when the poll budget runs out.
	ErrPollTimeout = errors.New("completion poll budget exhausted")

	// ErrArtifactMissing means the run is complete but the artifact is not
	// present. Callers see it as not-ready.
	ErrArtifactMissing = errors.New("artifact not present")

	// ErrRetrievalFailure is a store failure on the read path.
	ErrRetrievalFailure = errors.New("artifact retrieval failed")

	// ErrInvalidRunID rejects ids that are not safe store path segments.
	ErrInvalidRunID = errors.New("invalid run id")

	// ErrRunNotFound is returned when neither the registry nor the store
	// knows the run.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoInputs rejects submissions without inputs.
	ErrNoInputs = errors.New("no inputs")

	// ErrInvalidInput rejects input locations and upload names that cannot be
	// handed to a worker as-is.
	ErrInvalidInput = errors.New("invalid input")
)

func markLaunch(err error, runID string) error {
	return errors.Mark(errors.Wrapf(err, "launch run %s", runID), ErrLaunch)
}

func markTransient(err error, key string) error {
	return errors.Mark(errors.Wrapf(err, "check %s", key), ErrTransientStore)
}

func markRetrieval(err error, key string) error {
	return errors.Mark(errors.Wrapf(err, "read %s", key), ErrRetrievalFailure)
}
