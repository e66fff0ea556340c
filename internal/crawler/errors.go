package crawler

import "errors"

// Failure kinds. Each is caught where it originates and converted into a
// counter increment plus a log line; none of them ends a run.
var (
	ErrFetch       = errors.New("fetch failure")
	ErrExtraction  = errors.New("extraction failure")
	ErrValidation  = errors.New("validation failure")
	ErrPersistence = errors.New("persistence failure")
)

// FailureKind names the failure class of err for logs and metrics labels.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}
