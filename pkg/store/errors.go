package store

import "fmt"

// FailureKind classifies why a build was aborted. Every failure anywhere in
// a build carries exactly one of these; none are retried.
type FailureKind int

const (
	FailureValidation FailureKind = iota + 1 // malformed or missing input data
	FailureFetch                             // source or destination transfer failed
	FailureWrite                             // container append or schema violation
	FailureCompaction                        // repack step failed
)

func (k FailureKind) String() string {
	switch k {
	case FailureValidation:
		return "validation"
	case FailureFetch:
		return "fetch"
	case FailureWrite:
		return "write"
	case FailureCompaction:
		return "compaction"
	}
	return "unknown"
}

// BuildError is the single error shape propagated out of a build. Step names
// the ingestion step that failed.
type BuildError struct {
	Kind FailureKind
	Step string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s failure in %s: %v", e.Kind, e.Step, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildErr(kind FailureKind, step string, err error) *BuildError {
	return &BuildError{Kind: kind, Step: step, Err: err}
}
