package coordinator

import (
	"errors"
	"fmt"
)

// ErrRuntimeUnavailable means the execution substrate could not be
// initialized. Fatal, never retried.
var ErrRuntimeUnavailable = errors.New("distributed runtime unavailable")

// RetryExhaustedError reports that worker failures recurred until the retry
// budget was spent. It carries the checkpoint location so the caller can
// resume manually by re-invoking the job with the same checkpoint
// configuration.
type RetryExhaustedError struct {
	Attempts         int
	CheckpointDir    string
	CheckpointPrefix string
	LastFailure      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf(
		"a worker died during training and the maximum number of retries is exhausted after %d attempts; "+
			"checkpoints have been stored at %q with prefix %q - pass the same checkpoint directory and prefix "+
			"to continue training from the last save (last failure: %v)",
		e.Attempts, e.CheckpointDir, e.CheckpointPrefix, e.LastFailure)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastFailure
}
