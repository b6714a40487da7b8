package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// terminateGrace is how long Terminate waits between the graceful signal
// and the hard kill.
const terminateGrace = 2 * time.Second

// QEMUConfig configures the script-based QEMU launcher.
type QEMUConfig struct {
	// ScriptPath is the runner script that boots a VM given its name.
	// The script owns the QEMU invocation details; the launcher only
	// owns the process.
	ScriptPath string

	// ImagesDir holds one disk image per VM name.
	ImagesDir string
}

// QEMULauncher boots VMs through the configured runner script with piped
// standard streams.
type QEMULauncher struct {
	cfg QEMUConfig
}

// NewQEMU validates the launcher configuration up front so a broken setup
// fails at startup, not on the first claim.
func NewQEMU(cfg QEMUConfig) (*QEMULauncher, error) {
	if cfg.ScriptPath == "" {
		return nil, fmt.Errorf("%w: runner script path is empty", ErrConfig)
	}
	if _, err := os.Stat(cfg.ScriptPath); err != nil {
		return nil, fmt.Errorf("%w: runner script %s: %v", ErrConfig, cfg.ScriptPath, err)
	}
	if cfg.ImagesDir == "" {
		return nil, fmt.Errorf("%w: images directory is empty", ErrConfig)
	}
	return &QEMULauncher{cfg: cfg}, nil
}

// Launch resolves vmName to an image under ImagesDir and starts the runner
// script with piped stdio.
func (l *QEMULauncher) Launch(ctx context.Context, vmName string) (Handle, error) {
	imagePath := filepath.Join(l.cfg.ImagesDir, vmName+".qcow2")
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, vmName)
	}

	// The process must not die with ctx: kill rights belong to the handle
	// so a timeout can do terminate-then-kill instead of an abrupt SIGKILL.
	cmd := exec.Command(l.cfg.ScriptPath, vmName, imagePath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start VM %s: %w", vmName, err)
	}

	h := &processHandle{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// processHandle supervises one OS process started by the QEMU launcher.
type processHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	mu       sync.Mutex
	stdinErr error
	closed   bool

	done   chan struct{}
	result ExitResult
}

// reap waits for the process exactly once and records the result.
func (h *processHandle) reap() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	h.result = ExitResult{ExitCode: code}
	close(h.done)
}

func (h *processHandle) Stdout() io.Reader { return h.stdout }
func (h *processHandle) Stderr() io.Reader { return h.stderr }

func (h *processHandle) WriteInput(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("input channel already closed")
	}
	_, err := h.stdin.Write(p)
	return err
}

func (h *processHandle) CloseInput() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.stdin.Close()
}

// Terminate sends SIGTERM, waits the grace period, then SIGKILLs.
func (h *processHandle) Terminate(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(terminateGrace):
	case <-ctx.Done():
	}

	return h.cmd.Process.Kill()
}

func (h *processHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1}, ctx.Err()
	}
}
