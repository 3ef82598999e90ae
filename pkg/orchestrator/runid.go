package orchestrator

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const maxRunIDLength = 128

var runIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewRunID returns a fresh random run id.
func NewRunID() string {
	return uuid.NewString()
}

// ValidateRunID checks that id is usable as a single store path segment.
func ValidateRunID(id string) error {
	switch {
	case id == "":
		return errors.Mark(errors.New("run id is empty"), ErrInvalidRunID)
	case len(id) > maxRunIDLength:
		return errors.Mark(errors.Newf("run id longer than %d characters", maxRunIDLength), ErrInvalidRunID)
	case !runIDRe.MatchString(id), strings.Contains(id, ".."):
		return errors.Mark(errors.Newf("run id %q contains unsupported characters", id), ErrInvalidRunID)
	}
	return nil
}

// IsMockRun reports whether id uses the reserved example prefix.
func IsMockRun(id string) bool {
	return strings.HasPrefix(id, MockRunPrefix)
}

// ValidateInputs checks input locations before a run is registered. Inputs
// end up in the worker's parameter file and sample sheet, so control
// characters are rejected outright.
func ValidateInputs(inputs []string) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			return errors.Mark(errors.Newf("input %d is empty", i), ErrInvalidInput)
		}
		if hasControl(in) {
			return errors.Mark(errors.Newf("input %q contains control characters", in), ErrInvalidInput)
		}
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
