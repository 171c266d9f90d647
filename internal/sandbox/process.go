//go:build linux

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// ErrNoIsolation means the host refused to create namespaces for the child
// and running without them was not allowed.
var ErrNoIsolation = errors.New("process sandbox: namespace isolation unavailable")

// ProcessOptions configures the process backend.
type ProcessOptions struct {
	NodeBinary string
	// AllowUnsafe falls back to a bare process group when namespaces are
	// unavailable. Detached descendants can then outlive the run.
	AllowUnsafe bool
}

// ProcessSandbox runs code as a local node child process. It is meant for
// development hosts without a Docker daemon. The child gets its own PID,
// mount and network namespaces, so it has no network and every descendant
// dies with it.
type ProcessSandbox struct {
	nodeBinary string
	isolated   bool
	logger     *zerolog.Logger
}

// NewProcessSandbox resolves the node binary on PATH and checks that
// namespaces can be created.
func NewProcessSandbox(opts ProcessOptions, logger *zerolog.Logger) (*ProcessSandbox, error) {
	path, err := exec.LookPath(opts.NodeBinary)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", opts.NodeBinary, err)
	}
	s := &ProcessSandbox{nodeBinary: path, isolated: true, logger: logger}

	probe := exec.Command(path, "--version")
	probe.SysProcAttr = s.sysProcAttr()
	if err := probe.Run(); err != nil {
		if !opts.AllowUnsafe {
			return nil, fmt.Errorf("%w: %v (set sandbox.process_unsafe to run without it)", ErrNoIsolation, err)
		}
		s.isolated = false
		logger.Warn().Err(err).Msg("PROCESS SANDBOX IS NOT ISOLATED: submitted code can reach the network and leave processes behind")
	}
	return s, nil
}

// Isolated reports whether runs get their own namespaces.
func (s *ProcessSandbox) Isolated() bool {
	return s.isolated
}

func (s *ProcessSandbox) sysProcAttr() *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if !s.isolated {
		return attr
	}
	// node is init of its PID namespace: when it exits or is killed the
	// kernel kills everything else inside.
	attr.Cloneflags = syscall.CLONE_NEWPID | syscall.CLONE_NEWNS | syscall.CLONE_NEWNET
	if os.Geteuid() != 0 {
		attr.Cloneflags |= syscall.CLONE_NEWUSER
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}
	return attr
}

func (s *ProcessSandbox) Prepare(ctx context.Context, images []string) error {
	return nil
}

func (s *ProcessSandbox) Close() error {
	return nil
}

func (s *ProcessSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	p := opts.Policy

	tmpDir, err := os.MkdirTemp("", "runbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	mainPath := filepath.Join(tmpDir, "main.js")
	if err := os.WriteFile(mainPath, []byte(opts.Source), 0o600); err != nil {
		return nil, fmt.Errorf("writing program: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	stdout := newCappedBuffer(p.MaxOutputBytes, cancel)
	stderr := newCappedBuffer(p.MaxOutputBytes, cancel)

	cmd := exec.CommandContext(runCtx, s.nodeBinary, "--max-old-space-size="+strconv.FormatInt(p.heapMB(), 10), mainPath)
	cmd.Dir = tmpDir
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + tmpDir, "NODE_ENV=production"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = s.sysProcAttr()
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = p.KillGrace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting node: %w", err)
	}
	s.limit(cmd.Process.Pid, p)

	waitErr := cmd.Wait()
	res := &ExecResult{
		Duration:       time.Since(start),
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		OutputExceeded: stdout.Exceeded() || stderr.Exceeded(),
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = unix.SignalName(ws.Signal())
			if ws.Signal() == unix.SIGXCPU {
				res.OOMKilled = true
			}
		}
	case errors.Is(waitErr, exec.ErrWaitDelay):
	default:
		return nil, fmt.Errorf("running node: %w", waitErr)
	}

	if runCtx.Err() != nil && !res.OutputExceeded {
		if ctx.Err() != nil {
			res.Cancelled = true
		} else {
			res.TimedOut = true
		}
	}
	return res, nil
}

// limit applies CPU-time and file-size ceilings to the started child. The
// wall-clock deadline stays the primary bound.
func (s *ProcessSandbox) limit(pid int, p Policy) {
	cpuSeconds := uint64(p.Timeout/time.Second) + 1
	limits := []struct {
		resource int
		value    uint64
	}{
		{unix.RLIMIT_CPU, cpuSeconds},
		{unix.RLIMIT_FSIZE, uint64(p.MaxOutputBytes)},
	}
	for _, l := range limits {
		rl := unix.Rlimit{Cur: l.value, Max: l.value}
		if err := unix.Prlimit(pid, l.resource, &rl, nil); err != nil {
			s.logger.Debug().Err(err).Int("pid", pid).Int("resource", l.resource).Msg("prlimit")
		}
	}
}
