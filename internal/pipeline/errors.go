package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/michaelbrown/runbox/internal/admission"
	"github.com/michaelbrown/runbox/internal/submission"
)

// Kind says which stage a failure belongs to.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindSyntax
	KindExecution
	KindAdmission
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSyntax:
		return "syntax"
	case KindExecution:
		return "execution"
	case KindAdmission:
		return "admission"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Message is safe to show to the client; Err
// keeps the underlying cause for logs.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// internalMessage is all a client learns about an internal fault.
const internalMessage = "internal error"

// classify maps errors from lower layers onto an Error. Anything it does not
// recognise is internal.
func classify(err error, retryAfter time.Duration) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var ve *submission.ValidationError
	switch {
	case errors.As(err, &ve):
		return &Error{Kind: KindValidation, Status: ve.Status, Message: ve.Message, Err: err}
	case errors.Is(err, admission.ErrQueueFull):
		return &Error{Kind: KindAdmission, Status: http.StatusServiceUnavailable, Message: "server busy: execution queue is full", Err: err, RetryAfter: retryAfter}
	case errors.Is(err, admission.ErrQueueTimeout):
		return &Error{Kind: KindAdmission, Status: http.StatusServiceUnavailable, Message: "server busy: timed out waiting for an execution slot", Err: err, RetryAfter: retryAfter}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindAdmission, Status: http.StatusServiceUnavailable, Message: "request cancelled before execution finished", Err: err}
	}
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: internalMessage, Err: err}
}
