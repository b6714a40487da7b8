// Package supervisor drives one VM process through the full lifecycle of
// one claimed request: launch, boot detection, command injection, output
// capture, timeout enforcement and exactly-once finalization.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vmplane/internal/launcher"
	"vmplane/internal/logger"
	"vmplane/internal/store"
)

// Config holds the supervisor's tunables.
type Config struct {
	// FlushInterval bounds how stale the visible work log may be.
	// Defaults to one second.
	FlushInterval time.Duration

	// Detector signals boot completion. Defaults to the marker detector.
	Detector BootDetector

	Logger *slog.Logger
}

// Supervisor owns exactly one VM process for the lifetime of one request.
type Supervisor struct {
	requests store.RequestStore
	logs     store.WorkLogStore
	launcher launcher.Launcher
	cfg      Config
}

// New creates a supervisor factory bound to the given stores and launcher.
func New(requests store.RequestStore, logs store.WorkLogStore, l launcher.Launcher, cfg Config) *Supervisor {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Detector == nil {
		cfg.Detector = NewMarkerDetector()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{requests: requests, logs: logs, launcher: l, cfg: cfg}
}

// streamEvent is one observed output line, tagged with its source stream.
type streamEvent struct {
	category store.LogCategory
	line     string
}

// Run drives the claimed request to completion. Failures never escape: every
// path ends in a terminal status on the request row, except an externally
// forced stop (cancel/hold), which leaves the terminal decision to the
// external actor, and a hard context cancellation, which leaves the row for
// reconciliation.
func (s *Supervisor) Run(ctx context.Context, req *store.Request) {
	tracer := otel.Tracer("vmplane-supervisor")
	ctx, span := tracer.Start(ctx, "supervise_request",
		trace.WithAttributes(
			attribute.String("request.id", req.ID.String()),
			attribute.String("vm.name", req.VMName),
			attribute.Int("request.timeout_seconds", req.TimeoutSeconds),
		),
	)
	defer span.End()

	log := logger.FromContext(ctx, s.cfg.Logger).With("vm_name", req.VMName)
	if logger.RequestIDFromContext(ctx) == "" {
		log = log.With("request_id", req.ID.String())
	}

	// Store writes must survive a cancelled supervision context.
	opCtx := context.WithoutCancel(ctx)

	handle, err := s.launcher.Launch(ctx, req.VMName)
	if err != nil {
		span.RecordError(err)
		log.Error("vm launch failed", "error", err)
		s.append(opCtx, req, store.LogStderr, fmt.Sprintf("Error launching VM: %v", err))
		s.finalize(opCtx, req, store.StatusAcknowledged, store.StatusCancelled, nil, store.FailureVMLaunch, log)
		return
	}

	if err := s.requests.Transition(opCtx, req.ID, store.StatusAcknowledged, store.StatusRunning); err != nil {
		// The request was cancelled or held between claim and launch.
		// The external actor owns the row now; just stop the VM.
		log.Warn("request no longer acknowledged, stopping vm", "error", err)
		handle.Terminate(opCtx)
		handle.Wait(opCtx)
		return
	}

	s.supervise(ctx, opCtx, req, handle, log)
}

func (s *Supervisor) supervise(ctx, opCtx context.Context, req *store.Request, handle launcher.Handle, log *slog.Logger) {
	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	events := make(chan streamEvent, 64)
	var readers sync.WaitGroup
	readers.Add(2)
	go readLines(handle.Stdout(), store.LogStdout, events, &readers)
	go readLines(handle.Stderr(), store.LogStderr, events, &readers)
	go func() {
		readers.Wait()
		close(events)
	}()

	exitCh := make(chan launcher.ExitResult, 1)
	go func() {
		res, _ := handle.Wait(context.WithoutCancel(ctx))
		exitCh <- res
	}()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	var (
		buf          []store.Appendable
		bootDetected bool
		commandsSent bool
		terminated   bool // we killed the process
		external     bool // an external cancel/hold owns the row
		interrupted  bool // supervision context died
		failure      store.FailureKind
		exitRes      launcher.ExitResult
		exited       bool
	)
	lastOutput := time.Now()
	evCh := events
	done := ctx.Done()

	buf = append(buf, store.Appendable{Category: store.LogBoot, Payload: "Starting VM: " + req.VMName})

	completeBoot := func() {
		bootDetected = true
		buf = append(buf, store.Appendable{Category: store.LogBoot, Payload: "Boot process completed"})
		if err := deliverCommands(handle, req.Commands); err != nil {
			log.Error("command delivery failed", "error", err)
			buf = append(buf, store.Appendable{Category: store.LogStderr, Payload: fmt.Sprintf("Error sending commands: %v", err)})
			failure = store.FailureCommandDelivery
			terminated = true
			handle.Terminate(opCtx)
			return
		}
		commandsSent = true
		buf = append(buf, store.Appendable{Category: store.LogCommand, Payload: req.Commands})
	}

	for evCh != nil || !exited {
		select {
		case ev, ok := <-evCh:
			if !ok {
				evCh = nil
				continue
			}
			lastOutput = time.Now()
			category := ev.category
			if !bootDetected {
				category = store.LogBoot
			}
			buf = append(buf, store.Appendable{Category: category, Payload: ev.line})
			if !bootDetected && !terminated && s.cfg.Detector.LineObserved(ev.line) {
				completeBoot()
			}

		case res := <-exitCh:
			exited = true
			exitRes = res

		case <-ticker.C:
			s.flush(opCtx, req, &buf, log)
			if err := s.requests.Heartbeat(opCtx, req.ID); err != nil {
				log.Warn("heartbeat failed", "error", err)
			}

			// An externally forced cancel/hold is honored on the flush
			// cadence rather than only at natural completion.
			if !external && !terminated && s.externallyStopped(opCtx, req.ID, log) {
				external = true
				terminated = true
				handle.Terminate(opCtx)
				continue
			}

			quiet := time.Since(lastOutput)
			if !bootDetected && !terminated && s.cfg.Detector.QuietFor(quiet) {
				completeBoot()
				continue
			}

			// Rolling inactivity window: any output resets it. The same
			// timeout_seconds applies before and after boot.
			if !terminated && quiet > timeout {
				if bootDetected {
					failure = store.FailureInactivity
				} else {
					failure = store.FailureBootTimeout
				}
				buf = append(buf, store.Appendable{
					Category: store.LogStderr,
					Payload:  fmt.Sprintf("No output detected for %d seconds, terminating VM", req.TimeoutSeconds),
				})
				terminated = true
				handle.Terminate(opCtx)
			}

		case <-done:
			// Hard stop. Kill the VM and leave the row non-terminal for
			// reconciliation; the drain path never cancels this context.
			done = nil
			if !terminated {
				terminated = true
				interrupted = true
				handle.Terminate(opCtx)
			}
		}
	}

	// Buffered output is never lost at exit.
	s.flush(opCtx, req, &buf, log)

	switch {
	case external, interrupted:
		return
	case failure != "":
		s.append(opCtx, req, store.LogStderr, failureDetail(failure, req))
		s.finalize(opCtx, req, store.StatusRunning, store.StatusCancelled, &exitRes.ExitCode, failure, log)
	case !bootDetected:
		// Started but never reached a usable boot: crash, not a result.
		s.append(opCtx, req, store.LogStderr, fmt.Sprintf("VM exited with code %d before boot completed", exitRes.ExitCode))
		s.finalize(opCtx, req, store.StatusRunning, store.StatusCancelled, &exitRes.ExitCode, store.FailureProcessCrash, log)
	default:
		// A non-zero command exit code is the caller's concern; the
		// orchestration itself succeeded.
		if commandsSent {
			log.Info("vm execution completed", "exit_code", exitRes.ExitCode)
		}
		s.finalize(opCtx, req, store.StatusRunning, store.StatusDone, &exitRes.ExitCode, "", log)
	}
}

// deliverCommands writes the command text to the VM's input channel,
// followed by an exit so the guest session ends on its own.
func deliverCommands(handle launcher.Handle, commands string) error {
	if err := handle.WriteInput([]byte(commands + "\n")); err != nil {
		return err
	}
	if err := handle.WriteInput([]byte("exit\n")); err != nil {
		return err
	}
	return handle.CloseInput()
}

func failureDetail(failure store.FailureKind, req *store.Request) string {
	switch failure {
	case store.FailureBootTimeout:
		return fmt.Sprintf("Boot did not complete within %d seconds", req.TimeoutSeconds)
	case store.FailureInactivity:
		return fmt.Sprintf("VM execution timed out after %d seconds of inactivity", req.TimeoutSeconds)
	case store.FailureCommandDelivery:
		return "Failed to deliver commands to the VM input channel"
	default:
		return string(failure)
	}
}

// flush writes buffered entries as one batch; on failure the buffer is kept
// for the next cadence.
func (s *Supervisor) flush(ctx context.Context, req *store.Request, buf *[]store.Appendable, log *slog.Logger) {
	if len(*buf) == 0 {
		return
	}
	if err := s.logs.AppendBatch(ctx, req.ID, *buf); err != nil {
		log.Error("work log flush failed", "entries", len(*buf), "error", err)
		return
	}
	*buf = (*buf)[:0]
}

func (s *Supervisor) append(ctx context.Context, req *store.Request, category store.LogCategory, payload string) {
	if _, err := s.logs.Append(ctx, req.ID, category, payload); err != nil {
		s.cfg.Logger.Error("work log append failed", "request_id", req.ID.String(), "error", err)
	}
}

// externallyStopped reports whether an external actor moved the row out of
// running (user cancel, operator hold).
func (s *Supervisor) externallyStopped(ctx context.Context, id uuid.UUID, log *slog.Logger) bool {
	cur, err := s.requests.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("status poll failed", "error", err)
		}
		return errors.Is(err, store.ErrNotFound)
	}
	return cur.Status != store.StatusRunning
}

// finalize performs the exactly-once terminal transition. A conflict means
// an external actor finalized first; their decision stands.
func (s *Supervisor) finalize(ctx context.Context, req *store.Request, expected, terminal store.RequestStatus, exitCode *int, failure store.FailureKind, log *slog.Logger) {
	err := s.requests.Finalize(ctx, req.ID, expected, terminal, exitCode, failure)
	switch {
	case errors.Is(err, store.ErrConflict):
		log.Warn("request finalized externally", "intended", string(terminal))
	case err != nil:
		log.Error("finalize failed", "intended", string(terminal), "error", err)
	default:
		log.Info("request finalized", "status", string(terminal), "failure", string(failure))
	}
}

// readLines scans one stream line by line into the event channel, dropping
// blank lines the way the guest console tends to emit them.
func readLines(r io.Reader, category store.LogCategory, events chan<- streamEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		events <- streamEvent{category: category, line: line}
	}
}
