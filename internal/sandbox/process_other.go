//go:build !linux

package sandbox

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ProcessSandbox is only available on Linux.
type ProcessSandbox struct{}

var ErrNoIsolation = errors.New("process sandbox: namespace isolation unavailable")

type ProcessOptions struct {
	NodeBinary  string
	AllowUnsafe bool
}

func NewProcessSandbox(opts ProcessOptions, logger *zerolog.Logger) (*ProcessSandbox, error) {
	return nil, errors.New("process sandbox backend requires linux")
}

func (s *ProcessSandbox) Isolated() bool { return false }

func (s *ProcessSandbox) Prepare(ctx context.Context, images []string) error { return nil }

func (s *ProcessSandbox) Close() error { return nil }

func (s *ProcessSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	return nil, errors.New("process sandbox backend requires linux")
}
