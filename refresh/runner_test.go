package refresh

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-connections/core"
)

type fakeSweeperService struct {
	sweeps    chan time.Time
	sweepErr  error
	stats     core.SweepStats
	workerErr error
}

func (s *fakeSweeperService) SweepExpiring(_ context.Context, before time.Time, _ int) (core.SweepStats, error) {
	if s.sweeps != nil {
		s.sweeps <- before
	}
	return s.stats, s.sweepErr
}

func (s *fakeSweeperService) RunRefreshWorker(ctx context.Context, _ core.JobDequeuer) error {
	if s.workerErr != nil {
		return s.workerErr
	}
	<-ctx.Done()
	return ctx.Err()
}

type blockingDequeuer struct{}

func (blockingDequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunner_RunSweepsOnScheduleUntilCancelled(t *testing.T) {
	service := &fakeSweeperService{
		sweeps: make(chan time.Time, 16),
		stats:  core.SweepStats{Scanned: 3, Enqueued: 1},
	}
	runner, err := NewRunner(Config{
		Service:       service,
		Dequeuer:      blockingDequeuer{},
		SweepInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	// First sweep fires immediately, the second comes from the ticker.
	for i := 0; i < 2; i++ {
		select {
		case before := <-service.sweeps:
			if !before.IsZero() {
				t.Fatalf("expected zero cutoff so the service picks the lead window, got %v", before)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for sweep %d", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to stop")
	}
}

func TestRunner_RunStopsWhenWorkerFails(t *testing.T) {
	service := &fakeSweeperService{
		sweeps:    make(chan time.Time, 16),
		workerErr: fmt.Errorf("queue unavailable"),
	}
	runner, err := NewRunner(Config{
		Service:       service,
		Dequeuer:      blockingDequeuer{},
		SweepInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.Background())
	}()

	select {
	case <-service.sweeps:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for initial sweep")
	}

	select {
	case err := <-done:
		if err == nil || err.Error() != "queue unavailable" {
			t.Fatalf("expected worker failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to stop on worker failure")
	}
}

func TestRunner_SweepOnceReportsFailure(t *testing.T) {
	service := &fakeSweeperService{sweepErr: fmt.Errorf("store offline")}
	runner, err := NewRunner(Config{
		Service:  service,
		Dequeuer: blockingDequeuer{},
	})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	if _, err := runner.SweepOnce(context.Background()); err == nil {
		t.Fatalf("expected sweep error")
	}
}

func TestNewRunner_ValidatesConfig(t *testing.T) {
	if _, err := NewRunner(Config{Dequeuer: blockingDequeuer{}}); err == nil {
		t.Fatalf("expected error for missing service")
	}
	if _, err := NewRunner(Config{Service: &fakeSweeperService{}}); err == nil {
		t.Fatalf("expected error for missing dequeuer")
	}
}
