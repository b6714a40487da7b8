// Package worker runs the agent pull-loop that claims requests and hands
// each one to a dedicated VM supervisor.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"vmplane/internal/logger"
	"vmplane/internal/store"
	"vmplane/internal/supervisor"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	MaxBackoff   time.Duration // Maximum backoff when the queue is empty (default: 30s)

	// ReclaimAfter resets requests whose claimant stopped heartbeating back
	// to pending. Zero disables the sweeper.
	ReclaimAfter  time.Duration
	SweepInterval time.Duration // default: 30s when the sweeper is enabled
}

// Agent claims pending requests and supervises one VM per claim.
type Agent struct {
	requests   store.RequestStore
	supervisor *supervisor.Supervisor
	config     AgentConfig
	log        *slog.Logger
	done       chan struct{}

	claimed   metric.Int64Counter
	reclaimed metric.Int64Counter
}

// New creates a worker agent. The supervisor is shared across slots; it is
// stateless between requests.
func New(requests store.RequestStore, sup *supervisor.Supervisor, config AgentConfig, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.ReclaimAfter > 0 && config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	meter := otel.Meter("vmplane-agent")
	claimed, _ := meter.Int64Counter("agent.requests.claimed",
		metric.WithDescription("Requests claimed by this agent"))
	reclaimed, _ := meter.Int64Counter("agent.requests.reclaimed",
		metric.WithDescription("Stale claims swept back to pending"))

	return &Agent{
		requests:   requests,
		supervisor: sup,
		config:     config,
		log:        log.With("agent_id", config.ID),
		done:       make(chan struct{}),
		claimed:    claimed,
		reclaimed:  reclaimed,
	}
}

// Run starts the pull-loop. It blocks until the context is cancelled, then
// stops claiming and waits for in-flight VMs to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting", "concurrency", a.config.Concurrency)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Adaptive polling: a freed slot triggers an immediate re-poll instead
	// of waiting out the backoff timer.
	pollNow := make(chan struct{}, 1)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}
	triggerPoll()

	if a.config.ReclaimAfter > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweepLoop(ctx)
		}()
	}

	// Supervisors outlive the poll context so a drain lets VMs finish.
	superCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("agent draining, waiting for running vms")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			if len(sem) >= a.config.Concurrency {
				continue
			}

			req, err := a.requests.ClaimNext(ctx, a.config.ID)
			if err != nil {
				a.log.Error("claim failed", "error", err)
				continue
			}
			if req == nil {
				// Nothing claimable: empty queue or the concurrency cap is
				// reached. Back off exponentially up to the maximum.
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.claimed.Add(ctx, 1)
			a.log.Info("claimed request", "request_id", req.ID.String(), "vm_name", req.VMName)

			sem <- struct{}{}
			wg.Add(1)
			go func(req *store.Request) {
				defer wg.Done()
				defer func() {
					<-sem
					triggerPoll()
				}()
				a.supervisor.Run(logger.WithRequestID(superCtx, req.ID.String()), req)
			}(req)

			// More slots may be free; check the queue again right away.
			triggerPoll()
		}
	}
}

// Done is closed once the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// sweepLoop periodically resets claims whose agent stopped heartbeating.
func (a *Agent) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.requests.SweepStale(ctx, a.config.ReclaimAfter)
			if err != nil {
				a.log.Error("stale claim sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.reclaimed.Add(ctx, int64(n))
				a.log.Warn("reclaimed stale requests", "count", n,
					"older_than", a.config.ReclaimAfter.String())
			}
		}
	}
}

// Validate checks the agent configuration before startup.
func (c AgentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent id must not be empty")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	return nil
}
