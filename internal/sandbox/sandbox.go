package sandbox

import (
	"context"
	"time"
)

// ExecOpts describes one isolated run of prepared JavaScript.
type ExecOpts struct {
	Image  string // Docker image (ignored by the process backend)
	Source string // JavaScript fed to node
	Policy Policy
}

// ExecResult is the raw outcome of a run, before classification.
type ExecResult struct {
	Stdout         string
	Stderr         string
	ExitCode       int
	Duration       time.Duration
	TimedOut       bool // the wall-clock deadline fired and the context was killed
	Cancelled      bool // the caller gave up before the run finished
	OOMKilled      bool
	OutputExceeded bool
	Signal         string
}

// Runtime runs code in an isolated context. Implementations must terminate
// the context unconditionally when the policy deadline or the caller's
// context expires, and must not return until it is gone or the kill grace
// period has elapsed.
type Runtime interface {
	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
	// Prepare makes the runtime ready to run the given images.
	Prepare(ctx context.Context, images []string) error
	Close() error
}
