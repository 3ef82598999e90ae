package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/cloudres/internal/assets/schemas"
)

var (
	// ErrValidationFailed indicates the profile failed validation.
	ErrValidationFailed = errors.New("pipeline profile validation failed")

	// ErrSchemaNotFound indicates the embedded profile schema is missing.
	ErrSchemaNotFound = errors.New("pipeline profile schema not found")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

var (
	paramNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

	// pathTokenRe covers values rendered unquoted into the bootstrap script.
	pathTokenRe = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the dotted field path (e.g., "pipeline.repository").
	Path    string
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "pipeline profile validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks required fields and the characters allowed in values that
// end up in the worker bootstrap script.
func (m *Profile) Validate() error {
	var errs ValidationErrors
	add := func(path, msg string) {
		errs = append(errs, ValidationError{Path: path, Message: msg})
	}

	if m.Version != CurrentVersion {
		add("version", fmt.Sprintf("must be %q", CurrentVersion))
	}
	if strings.TrimSpace(m.Pipeline.Repository) == "" {
		add("pipeline.repository", "is required")
	}
	if m.Pipeline.Entrypoint != "" && !pathTokenRe.MatchString(m.Pipeline.Entrypoint) {
		add("pipeline.entrypoint", "may only contain letters, digits, '.', '_', '-' and '/'")
	}
	if m.Pipeline.HostileDB != "" && !strings.HasPrefix(m.Pipeline.HostileDB, "s3://") {
		add("pipeline.hostile_db", "must be an s3:// URI")
	}
	for _, p := range m.Pipeline.SortedParams() {
		if !paramNameRe.MatchString(p.Name) {
			add("pipeline.params."+p.Name, "invalid parameter name")
		}
	}
	if m.Worker.Home != "" && (!strings.HasPrefix(m.Worker.Home, "/") || !pathTokenRe.MatchString(m.Worker.Home)) {
		add("worker.home", "must be an absolute path")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRaw validates raw JSON profile data against the embedded schema.
// Unknown fields are rejected here, before defaults are applied.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		// The root diagnostic only summarises its causes.
		if d.Pointer == "" && strings.HasPrefix(d.Message, "doesn't validate with") {
			continue
		}
		errs = append(errs, ValidationError{Path: pointerToPath(d.Pointer), Message: d.Message})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// pointerToPath turns a JSON pointer ("/pipeline/entrypoint") into the
// dotted form used by Validate ("pipeline.entrypoint").
func pointerToPath(pointer string) string {
	p := strings.TrimPrefix(pointer, "/")
	p = strings.ReplaceAll(p, "/", ".")
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(p)
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.PipelineProfileSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded pipeline-profile schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.PipelineProfileSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile pipeline profile schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
