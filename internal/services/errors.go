package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks bad caller input; rejected synchronously with no
	// state change.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks operations that are not legal for the job's current
	// state, such as a duplicate reconstruct request.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks lookups for unknown or reclaimed job identifiers.
	ErrNotFound = errors.New("not found")
	// ErrSpawn marks failures to locate or start the reconstruction engine.
	ErrSpawn = errors.New("spawn error")
	// ErrPipeline marks a non-zero engine exit.
	ErrPipeline = errors.New("pipeline error")
	// ErrTimeout marks invocations that exceeded their wall-clock ceiling.
	ErrTimeout = errors.New("timeout")
	// ErrStorage marks artifact read/write failures.
	ErrStorage = errors.New("storage error")
	// ErrTransient marks failures with no better classification.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails carries the user-visible portion of a classified error.
type ErrorDetails struct {
	Message string
}

// Details extracts the message portion of a wrapped error, stripping the
// leading marker text when present so job records store a clean reason.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := err.Error()
	for _, marker := range []error{
		ErrValidation,
		ErrConflict,
		ErrNotFound,
		ErrSpawn,
		ErrPipeline,
		ErrTimeout,
		ErrStorage,
		ErrTransient,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return ErrorDetails{Message: strings.TrimPrefix(msg, prefix)}
		}
	}
	return ErrorDetails{Message: msg}
}

// IsSynchronous reports whether an error belongs to the classes returned
// directly to callers rather than recorded on the job.
func IsSynchronous(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
