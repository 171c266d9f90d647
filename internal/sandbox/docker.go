package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

// ManagedLabel marks every container created by the docker backend.
const ManagedLabel = "runbox.managed"

// DockerSandbox runs code in Docker containers.
type DockerSandbox struct {
	cli    *client.Client
	logger *zerolog.Logger
}

// NewDockerSandbox connects to the Docker daemon configured by the environment
// (DOCKER_HOST and friends).
func NewDockerSandbox(logger *zerolog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerSandbox{cli: cli, logger: logger}, nil
}

func (d *DockerSandbox) Close() error {
	return d.cli.Close()
}

// Prepare pulls any image that is not present locally.
func (d *DockerSandbox) Prepare(ctx context.Context, images []string) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	for _, img := range images {
		if _, err := d.cli.ImageInspect(ctx, img); err == nil {
			continue
		}
		d.logger.Info().Str("image", img).Msg("pulling sandbox image")
		rc, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pulling %s: %w", img, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("pulling %s: %w", img, err)
		}
	}
	return nil
}

func (d *DockerSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	p := opts.Policy
	if !p.IsImageAllowed(opts.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", opts.Image)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	pids := p.PidsLimit
	memory := p.MemoryMB * 1024 * 1024
	networkMode := container.NetworkMode("none")
	if p.Network {
		networkMode = "bridge"
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           opts.Image,
			Cmd:             []string{"node", "--max-old-space-size=" + strconv.FormatInt(p.heapMB(), 10), "-"},
			User:            "node",
			WorkingDir:      "/tmp",
			OpenStdin:       true,
			StdinOnce:       true,
			AttachStdin:     true,
			AttachStdout:    true,
			AttachStderr:    true,
			NetworkDisabled: !p.Network,
			Labels:          map[string]string{ManagedLabel: "true"},
		},
		&container.HostConfig{
			NetworkMode:    networkMode,
			ReadonlyRootfs: true,
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
			Resources: container.Resources{
				Memory:     memory,
				MemorySwap: memory,
				NanoCPUs:   int64(p.CPUs * 1e9),
				PidsLimit:  &pids,
			},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	defer d.remove(resp.ID)

	attach, err := d.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching to container: %w", err)
	}
	defer attach.Close()

	stdout := newCappedBuffer(p.MaxOutputBytes, cancel)
	stderr := newCappedBuffer(p.MaxOutputBytes, cancel)
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
	}()

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}
	if _, err := io.WriteString(attach.Conn, opts.Source); err != nil {
		d.logger.Debug().Err(err).Str("container", resp.ID).Msg("writing program to stdin")
	}
	_ = attach.CloseWrite()

	waitCtx, stopWait := context.WithCancel(context.Background())
	defer stopWait()
	statusCh, errCh := d.cli.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)

	res := &ExecResult{}
	select {
	case st := <-statusCh:
		res.ExitCode = int(st.StatusCode)
	case err := <-errCh:
		return nil, fmt.Errorf("waiting for container: %w", err)
	case <-runCtx.Done():
		d.kill(resp.ID)
		select {
		case st := <-statusCh:
			res.ExitCode = int(st.StatusCode)
		case <-errCh:
			res.ExitCode = -1
		case <-time.After(p.KillGrace):
			res.ExitCode = -1
		}
		switch {
		case stdout.Exceeded() || stderr.Exceeded():
		case ctx.Err() != nil:
			res.Cancelled = true
		default:
			res.TimedOut = true
		}
	}
	res.Duration = time.Since(start)

	select {
	case <-copyDone:
	case <-time.After(p.KillGrace):
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.OutputExceeded = stdout.Exceeded() || stderr.Exceeded()

	inspectCtx, stopInspect := context.WithTimeout(context.Background(), p.KillGrace)
	defer stopInspect()
	if info, err := d.cli.ContainerInspect(inspectCtx, resp.ID); err == nil && info.ContainerJSONBase != nil && info.State != nil {
		res.OOMKilled = info.State.OOMKilled
	}
	return res, nil
}

func (d *DockerSandbox) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.cli.ContainerKill(ctx, id, "KILL"); err != nil && !ignorable(err) {
		d.logger.Warn().Err(err).Str("container", id).Msg("killing container")
	}
}

func (d *DockerSandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !ignorable(err) {
		d.logger.Warn().Err(err).Str("container", id).Msg("removing container")
	}
}

// CleanupManaged force-removes leftover containers created by this service.
func (d *DockerSandbox) CleanupManaged(ctx context.Context) (int, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}
	removed := 0
	for _, c := range list {
		if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn().Err(err).Str("container", c.ID).Msg("cleanup")
			continue
		}
		removed++
	}
	return removed, nil
}

func ignorable(err error) bool {
	return client.IsErrNotFound(err) || errors.Is(err, context.Canceled)
}
