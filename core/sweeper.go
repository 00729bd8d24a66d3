package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RefreshJobID identifies background refresh work on the queue.
const RefreshJobID = "connections.refresh"

type SweepStats struct {
	Scanned  int
	Enqueued int
}

// SweepExpiring enqueues a refresh job for every active connection whose
// token expires before the cutoff. The idempotency key pins the connection
// version so a sweep overlapping an in-flight refresh dedupes instead of
// double-refreshing.
func (s *Service) SweepExpiring(ctx context.Context, before time.Time, limit int) (stats SweepStats, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["scanned"] = stats.Scanned
		fields["enqueued"] = stats.Enqueued
		s.observeOperation(ctx, startedAt, "sweep_expiring", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		return SweepStats{}, fmt.Errorf("core: service is not initialized")
	}
	if s.refreshEnqueuer == nil {
		err = s.mapError(fmt.Errorf("core: refresh enqueuer is not configured"))
		return SweepStats{}, err
	}
	if before.IsZero() {
		before = s.now().Add(s.refreshLeadWindow())
	}
	if limit <= 0 {
		limit = s.config.SweepLimit
	}
	if limit <= 0 {
		limit = DefaultSweepLimit
	}

	records, listErr := s.connectionStore.ListExpiring(ctx, before, limit)
	if listErr != nil {
		err = s.mapError(listErr)
		return SweepStats{}, err
	}

	for _, record := range records {
		stats.Scanned++
		if record.Status != ConnectionStatusActive {
			continue
		}
		msg := &JobExecutionMessage{
			JobID: RefreshJobID,
			Parameters: map[string]any{
				"user_id":     record.UserID,
				"provider_id": record.ProviderID,
			},
			IdempotencyKey: fmt.Sprintf("%s:%s:%d", record.UserID, record.ProviderID, record.Version),
			DedupPolicy:    "ignore",
		}
		if enqueueErr := s.refreshEnqueuer.Enqueue(ctx, msg); enqueueErr != nil {
			err = s.mapError(enqueueErr)
			return stats, err
		}
		stats.Enqueued++
	}
	return stats, nil
}

// ProcessRefreshDelivery drives one queued refresh job to an ack or a nack.
// Transient failures requeue with backoff, dead grants and bad input go to
// the dead letter queue so the queue never spins on unrecoverable work.
func (s *Service) ProcessRefreshDelivery(ctx context.Context, delivery JobDelivery, attempt int) error {
	if s == nil {
		return fmt.Errorf("core: service is not initialized")
	}
	if delivery == nil {
		return fmt.Errorf("core: job delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, JobNackOptions{
			DeadLetter: true,
			Reason:     "empty refresh message",
		})
	}

	userID := strings.TrimSpace(fmt.Sprint(msg.Parameters["user_id"]))
	providerID := strings.TrimSpace(fmt.Sprint(msg.Parameters["provider_id"]))
	if userID == "" || userID == "<nil>" || providerID == "" || providerID == "<nil>" {
		return delivery.Nack(ctx, JobNackOptions{
			DeadLetter: true,
			Reason:     "refresh message missing user_id or provider_id",
		})
	}

	_, err := s.EnsureValidToken(ctx, userID, providerID)
	if err == nil {
		return delivery.Ack(ctx)
	}

	switch ClassifyFailure(err) {
	case DispositionRetryable:
		if attempt < 1 {
			attempt = 1
		}
		return delivery.Nack(ctx, JobNackOptions{
			Delay:   s.refreshBackoff.NextDelay(attempt),
			Requeue: true,
			Reason:  err.Error(),
		})
	default:
		// needs_reauth is already persisted on the record; retrying the job
		// cannot recover it.
		return delivery.Nack(ctx, JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		})
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunRefreshWorker consumes refresh deliveries until the context ends or the
// dequeuer fails. Dequeue errors back off with the refresh scheduler.
func (s *Service) RunRefreshWorker(ctx context.Context, dequeuer JobDequeuer) error {
	if s == nil {
		return fmt.Errorf("core: service is not initialized")
	}
	if dequeuer == nil {
		return fmt.Errorf("core: job dequeuer is required")
	}
	attempt := 1
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if waitErr := waitWithContext(ctx, s.refreshBackoff.NextDelay(attempt)); waitErr != nil {
				return waitErr
			}
			attempt++
			continue
		}
		attempt = 1
		if handleErr := s.ProcessRefreshDelivery(ctx, delivery, 1); handleErr != nil {
			s.logError(ctx, "refresh delivery handling failed", map[string]any{
				"error": handleErr.Error(),
			})
		}
	}
}
