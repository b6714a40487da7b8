package launcher

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerLauncher boots a VM profile as a container with an attached input
// channel. Intended for hosts without KVM where the profile maps to a
// container image instead of a disk image.
type DockerLauncher struct {
	client *client.Client
}

// NewDocker creates a Docker-backed launcher from the standard environment
// (DOCKER_HOST etc.).
func NewDocker() (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &DockerLauncher{client: cli}, nil
}

// Launch starts a container for vmName with stdin attached and stdout/stderr
// demultiplexed into separate streams.
func (l *DockerLauncher) Launch(ctx context.Context, vmName string) (Handle, error) {
	if _, err := l.client.ImageInspect(ctx, vmName); err != nil {
		reader, pullErr := l.client.ImagePull(ctx, vmName, image.PullOptions{})
		if pullErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, vmName)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	created, err := l.client.ContainerCreate(ctx, &container.Config{
		Image:        vmName,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container for %s: %w", vmName, err)
	}

	attach, err := l.client.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container: %w", err)
	}

	if err := l.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	h := newContainerHandle(l.client, created.ID, attach)
	return h, nil
}

// containerHandle supervises one container started by the Docker launcher.
type containerHandle struct {
	client      *client.Client
	containerID string
	attach      types.HijackedResponse

	stdout *io.PipeReader
	stderr *io.PipeReader
}

func newContainerHandle(cli *client.Client, containerID string, attach types.HijackedResponse) *containerHandle {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	// The attach stream multiplexes both channels; demux until EOF.
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, attach.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()

	return &containerHandle{
		client:      cli,
		containerID: containerID,
		attach:      attach,
		stdout:      stdoutR,
		stderr:      stderrR,
	}
}

func (h *containerHandle) Stdout() io.Reader { return h.stdout }
func (h *containerHandle) Stderr() io.Reader { return h.stderr }

func (h *containerHandle) WriteInput(p []byte) error {
	_, err := h.attach.Conn.Write(p)
	return err
}

func (h *containerHandle) CloseInput() error {
	return h.attach.CloseWrite()
}

// Terminate stops the container; the engine escalates to SIGKILL after the
// grace period.
func (h *containerHandle) Terminate(ctx context.Context) error {
	grace := int(terminateGrace.Seconds())
	return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &grace})
}

func (h *containerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1}, err
	case status := <-statusCh:
		if status.Error != nil {
			return ExitResult{ExitCode: int(status.StatusCode)}, fmt.Errorf("%s", status.Error.Message)
		}
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1}, ctx.Err()
	}
}
