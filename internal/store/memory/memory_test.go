package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vmplane/internal/store"
)

func newStore() *Store {
	return New(store.Limits{MaxConcurrentVMs: 2, MaxTimeoutSeconds: 3600})
}

func mustSubmit(t *testing.T, s *Store) *store.Request {
	t.Helper()
	req, err := s.Submit(context.Background(), "ubuntu-base", "echo hi", 60)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return req
}

func TestSubmitValidation(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	cases := []struct {
		name     string
		vmName   string
		commands string
		timeout  int
	}{
		{"Empty VM Name", "", "echo hi", 60},
		{"Whitespace VM Name", "   ", "echo hi", 60},
		{"Empty Commands", "ubuntu-base", "", 60},
		{"Zero Timeout", "ubuntu-base", "echo hi", 0},
		{"Negative Timeout", "ubuntu-base", "echo hi", -1},
		{"Timeout Above Ceiling", "ubuntu-base", "echo hi", 4000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Submit(ctx, tc.vmName, tc.commands, tc.timeout)
			if !errors.Is(err, store.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}

	req := mustSubmit(t, s)
	if req.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
}

func TestClaimNextOrdering(t *testing.T) {
	s := New(store.Limits{MaxConcurrentVMs: 10, MaxTimeoutSeconds: 3600})
	ctx := context.Background()

	first := mustSubmit(t, s)
	time.Sleep(2 * time.Millisecond)
	second := mustSubmit(t, s)

	got, err := s.ClaimNext(ctx, "agent-1")
	if err != nil || got == nil {
		t.Fatalf("claim: %v %v", got, err)
	}
	if got.ID != first.ID {
		t.Fatalf("claimed %s, want oldest %s", got.ID, first.ID)
	}
	if got.Status != store.StatusAcknowledged {
		t.Fatalf("status = %s, want acknowledged", got.Status)
	}
	if got.ClaimedBy == nil || *got.ClaimedBy != "agent-1" {
		t.Fatalf("claimed_by = %v", got.ClaimedBy)
	}

	got, err = s.ClaimNext(ctx, "agent-1")
	if err != nil || got == nil || got.ID != second.ID {
		t.Fatalf("second claim = %v, %v", got, err)
	}
}

func TestClaimNextEmptyQueue(t *testing.T) {
	s := newStore()
	got, err := s.ClaimNext(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got != nil {
		t.Fatalf("claimed %v from an empty queue", got)
	}
}

func TestClaimNextRespectsCap(t *testing.T) {
	s := newStore() // cap 2
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustSubmit(t, s)
	}

	a, _ := s.ClaimNext(ctx, "agent-1")
	b, _ := s.ClaimNext(ctx, "agent-1")
	if a == nil || b == nil {
		t.Fatal("claims under the cap failed")
	}

	c, err := s.ClaimNext(ctx, "agent-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if c != nil {
		t.Fatalf("claim above the cap succeeded: %v", c)
	}

	// Finishing one VM frees a slot.
	if err := s.Transition(ctx, a.ID, store.StatusAcknowledged, store.StatusRunning); err != nil {
		t.Fatalf("transition: %v", err)
	}
	code := 0
	if err := s.Finalize(ctx, a.ID, store.StatusRunning, store.StatusDone, &code, ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	c, err = s.ClaimNext(ctx, "agent-1")
	if err != nil || c == nil {
		t.Fatalf("claim after slot freed: %v %v", c, err)
	}
}

func TestConcurrentClaimsNeverDoubleClaim(t *testing.T) {
	s := New(store.Limits{MaxConcurrentVMs: 100, MaxTimeoutSeconds: 3600})
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		mustSubmit(t, s)
	}

	var wg sync.WaitGroup
	claims := make(chan uuid.UUID, n*2)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			for {
				req, err := s.ClaimNext(ctx, agent)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if req == nil {
					return
				}
				claims <- req.ID
			}
		}("agent-" + uuid.NewString()[:8])
	}
	wg.Wait()
	close(claims)

	seen := make(map[uuid.UUID]bool)
	for id := range claims {
		if seen[id] {
			t.Fatalf("request %s claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("claimed %d distinct requests, want %d", len(seen), n)
	}
}

func TestTransitionConflictAndNotFound(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	req := mustSubmit(t, s)

	if err := s.Transition(ctx, req.ID, store.StatusRunning, store.StatusDone); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := s.Transition(ctx, uuid.New(), store.StatusPending, store.StatusCancelled); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeIsExactlyOnce(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	req := mustSubmit(t, s)

	if _, err := s.ClaimNext(ctx, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Transition(ctx, req.ID, store.StatusAcknowledged, store.StatusRunning); err != nil {
		t.Fatalf("transition: %v", err)
	}

	code := 0
	if err := s.Finalize(ctx, req.ID, store.StatusRunning, store.StatusDone, &code, ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// A second finalize loses the race and must not overwrite.
	other := 1
	err := s.Finalize(ctx, req.ID, store.StatusRunning, store.StatusCancelled, &other, store.FailureInactivity)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	got, _ := s.Get(ctx, req.ID)
	if got.Status != store.StatusDone || *got.ExitCode != 0 || got.Failure != nil {
		t.Fatalf("terminal state overwritten: %+v", got)
	}
}

func TestFinalizeRejectsNonTerminalTarget(t *testing.T) {
	s := newStore()
	req := mustSubmit(t, s)
	err := s.Finalize(context.Background(), req.ID, store.StatusPending, store.StatusRunning, nil, "")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSweepStaleResetsOnlyQuietClaims(t *testing.T) {
	s := New(store.Limits{MaxConcurrentVMs: 10, MaxTimeoutSeconds: 3600})
	ctx := context.Background()

	stale := mustSubmit(t, s)
	fresh := mustSubmit(t, s)

	if _, err := s.ClaimNext(ctx, "agent-dead"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := s.ClaimNext(ctx, "agent-live"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Heartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	n, err := s.SweepStale(ctx, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}

	got, _ := s.Get(ctx, stale.ID)
	if got.Status != store.StatusPending || got.ClaimedBy != nil {
		t.Fatalf("stale claim not reset: %+v", got)
	}
	got, _ = s.Get(ctx, fresh.ID)
	if got.Status != store.StatusAcknowledged {
		t.Fatalf("fresh claim was swept: %+v", got)
	}
}

func TestWorkLogPartitioningAndOrder(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	a := mustSubmit(t, s)
	b := mustSubmit(t, s)

	if _, err := s.Append(ctx, a.ID, store.LogBoot, "a1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, b.ID, store.LogBoot, "b1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendBatch(ctx, a.ID, []store.Appendable{
		{Category: store.LogStdout, Payload: "a2"},
		{Category: store.LogStderr, Payload: "a3"},
	}); err != nil {
		t.Fatalf("append batch: %v", err)
	}

	entries, err := s.Read(ctx, a.ID, 0, 100, "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, want := range []string{"a1", "a2", "a3"} {
		if entries[i].Payload != want {
			t.Fatalf("entries[%d] = %q, want %q", i, entries[i].Payload, want)
		}
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Position <= entries[i-1].Position {
			t.Fatal("positions not strictly increasing")
		}
	}

	// since cursor skips what was already read.
	tail, err := s.Read(ctx, a.ID, entries[0].Position, 100, "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(tail) != 2 || tail[0].Payload != "a2" {
		t.Fatalf("tail = %+v", tail)
	}

	// Other partitions are invisible.
	bEntries, _ := s.Read(ctx, b.ID, 0, 100, "")
	if len(bEntries) != 1 || bEntries[0].Payload != "b1" {
		t.Fatalf("b entries = %+v", bEntries)
	}

	// Category filter.
	stderrOnly, _ := s.Read(ctx, a.ID, 0, 100, store.LogStderr)
	if len(stderrOnly) != 1 || stderrOnly[0].Payload != "a3" {
		t.Fatalf("stderr entries = %+v", stderrOnly)
	}
}

func TestDeleteRemovesLogPartition(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	req := mustSubmit(t, s)

	if _, err := s.Append(ctx, req.ID, store.LogBoot, "line"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Delete(ctx, req.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, req.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	entries, _ := s.Read(ctx, req.ID, 0, 10, "")
	if len(entries) != 0 {
		t.Fatalf("log survived delete: %+v", entries)
	}
}

func TestListNewestFirstWithFilter(t *testing.T) {
	s := New(store.Limits{MaxConcurrentVMs: 10, MaxTimeoutSeconds: 3600})
	ctx := context.Background()

	old := mustSubmit(t, s)
	time.Sleep(2 * time.Millisecond)
	recent := mustSubmit(t, s)

	all, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != recent.ID || all[1].ID != old.ID {
		t.Fatalf("list order wrong: %+v", all)
	}

	if _, err := s.ClaimNext(ctx, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	pending, _ := s.List(ctx, store.StatusPending, 10)
	if len(pending) != 1 || pending[0].ID != recent.ID {
		t.Fatalf("pending list = %+v", pending)
	}
}
