package dlq

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/backlog/job"
)

// Entry is the archived record of a job that exhausted its attempts. It
// is immutable once pushed.
type Entry struct {
	// ID is the id of the failed job.
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Name       string    `json:"name"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	Exception  Exception `json:"exception"`
	HappenedAt time.Time `json:"happened_at"`
}

// Exception describes the error that failed the job.
type Exception struct {
	Class   string `json:"class"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// NewException captures err. Class is the Go type of the innermost
// wrapped error. Trace is the recovered stack when the target panicked.
func NewException(err error) Exception {
	if err == nil {
		return Exception{}
	}
	ex := Exception{
		Class:   fmt.Sprintf("%T", rootCause(err)),
		Message: err.Error(),
	}
	var pe *job.PanicError
	if errors.As(err, &pe) {
		ex.Trace = string(pe.Stack)
	}
	return ex
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
