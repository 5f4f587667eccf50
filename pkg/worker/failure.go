package worker

import "fmt"

// FailureKind tags why a worker did not produce a result. The coordinator
// retries the whole group for crashed and unreachable workers; application
// failures are configuration errors that would recur on every attempt and
// propagate immediately.
type FailureKind string

const (
	FailureCrashed     FailureKind = "crashed"
	FailureUnreachable FailureKind = "unreachable"
	FailureApplication FailureKind = "application"
)

type Failure struct {
	Rank int
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("worker %d %s: %v", f.Rank, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Recoverable reports whether restarting the job could help.
func (f *Failure) Recoverable() bool {
	return f.Kind != FailureApplication
}
