// Package launcher resolves a VM name into a running, supervisable process.
//
// A Handle is exclusively owned by one supervisor: it alone reads the output
// streams, writes the input channel and holds kill rights.
package launcher

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrImageNotFound means the VM name does not resolve to a known image.
	// Distinct from a launch that failed after resolution.
	ErrImageNotFound = errors.New("vm image not found")

	// ErrConfig means the launcher itself is misconfigured (missing runner
	// script, unreachable daemon) and no launch can succeed.
	ErrConfig = errors.New("launcher misconfigured")
)

// ExitResult is the final state of a launched VM process.
type ExitResult struct {
	// ExitCode is the process exit code; -1 when the process was killed
	// by a signal before exiting on its own.
	ExitCode int
}

// Handle represents one running VM process.
type Handle interface {
	// Stdout and Stderr are line-buffered output streams. They reach EOF
	// when the process exits.
	Stdout() io.Reader
	Stderr() io.Reader

	// WriteInput delivers bytes to the VM's input channel.
	WriteInput(p []byte) error

	// CloseInput signals end of input to the VM.
	CloseInput() error

	// Terminate forcibly stops the process: graceful signal first, hard
	// kill after a short grace period.
	Terminate(ctx context.Context) error

	// Wait blocks until the process exits. Safe to call after Terminate.
	Wait(ctx context.Context) (ExitResult, error)
}

// Launcher boots a VM profile by name.
type Launcher interface {
	Launch(ctx context.Context, vmName string) (Handle, error)
}
