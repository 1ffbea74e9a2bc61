package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/deaddrop/internal/domain"
	"github.com/kursadbilgin/deaddrop/internal/events"
	"github.com/kursadbilgin/deaddrop/internal/idempotency"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/kursadbilgin/deaddrop/internal/provider"
	"github.com/kursadbilgin/deaddrop/internal/queue"
	"github.com/kursadbilgin/deaddrop/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultIdleWait      = 250 * time.Millisecond
	defaultReapInterval  = 30 * time.Second
	maxConflictRetries   = 3

	// DefaultPublishTimeout bounds a single lifecycle event publish.
	DefaultPublishTimeout = 5 * time.Second
)

// errStaleObligation marks an obligation whose note is no longer pending.
var errStaleObligation = errors.New("stale obligation")

type DeliveryWorkerConfig struct {
	Concurrency int
	// IdleWait is how long a worker sleeps when nothing is visible in the queue.
	IdleWait time.Duration
	// ReapInterval is how often expired leases are reclaimed.
	ReapInterval time.Duration
}

// DeliveryWorker pulls obligations from the scheduler and makes one delivery attempt per lease.
type DeliveryWorker struct {
	notes     repository.NoteRepository
	scheduler queue.Scheduler
	executor  provider.Executor
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics

	concurrency  int
	idleWait     time.Duration
	reapInterval time.Duration
	// publishTimeout keeps a broker outage from holding a lease.
	publishTimeout time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDeliveryWorker(
	notes repository.NoteRepository,
	scheduler queue.Scheduler,
	executor provider.Executor,
	publisher events.Publisher,
	cfg DeliveryWorkerConfig,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if notes == nil {
		return nil, fmt.Errorf("note repository is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.Concurrency < minWorkerConcurrency {
		cfg.Concurrency = minWorkerConcurrency
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = defaultIdleWait
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		notes:          notes,
		scheduler:      scheduler,
		executor:       executor,
		publisher:      publisher,
		logger:         logger,
		concurrency:    cfg.Concurrency,
		idleWait:       cfg.IdleWait,
		reapInterval:   cfg.ReapInterval,
		now:            time.Now,
		publishTimeout: DefaultPublishTimeout,
		sleep:          sleepWithContext,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the worker pool and the lease reaper until ctx is canceled.
// An attempt already in progress is finished before its worker exits.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.logger.Info("worker started", zap.Int("workerId", workerID))
			w.run(groupCtx, workerID)
			w.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	g.Go(func() error {
		w.reap(groupCtx)
		return nil
	})

	return g.Wait()
}

func (w *DeliveryWorker) run(ctx context.Context, workerID int) {
	for ctx.Err() == nil {
		lease, err := w.scheduler.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", zap.Int("workerId", workerID), zap.Error(err))
			_ = w.sleep(ctx, w.idleWait)
			continue
		}
		if lease == nil {
			_ = w.sleep(ctx, w.idleWait)
			continue
		}

		if err := w.Process(context.WithoutCancel(ctx), lease); err != nil {
			w.logger.Error("obligation processing failed",
				zap.Int("workerId", workerID),
				zap.String("noteId", lease.NoteID),
				zap.Error(err),
			)
		}
	}
}

func (w *DeliveryWorker) reap(ctx context.Context) {
	ticker := time.NewTicker(w.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.scheduler.Reclaim(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("lease reclaim failed", zap.Error(err))
			}
		}
	}
}

// Process handles one leased obligation. Errors leave the lease in place, so the obligation
// is redelivered once the visibility timeout passes.
func (w *DeliveryWorker) Process(ctx context.Context, lease *queue.Lease) error {
	note, err := w.notes.GetByID(ctx, lease.NoteID)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Warn("note not found for obligation, discarding", zap.String("noteId", lease.NoteID))
		return w.settle(ctx, lease)
	}
	if err != nil {
		return fmt.Errorf("failed to load note: %w", err)
	}
	if note.Status != domain.StatusPending {
		w.logger.Info("note no longer pending, discarding obligation",
			zap.String("noteId", note.ID),
			zap.String("status", note.Status.String()),
		)
		w.metrics.IncStaleObligation()
		return w.settle(ctx, lease)
	}

	if lease.Exhausted {
		return w.exhaust(ctx, lease)
	}

	w.metrics.IncWorkerInFlight()
	defer w.metrics.DecWorkerInFlight()

	attemptNumber := lease.Attempts + 1
	key := idempotency.Key(note.ID, note.ReleaseAt)

	start := w.now()
	outcome := w.executor.Execute(ctx, provider.Delivery{
		NoteID:         note.ID,
		Title:          note.Title,
		Body:           note.Body,
		ReleaseAt:      note.ReleaseAt,
		WebhookURL:     note.WebhookURL,
		IdempotencyKey: key,
	})
	duration := w.now().Sub(start)
	w.metrics.ObserveAttempt(outcome.Kind.String(), duration)

	attempt := domain.Attempt{
		At:         start.UTC(),
		StatusCode: outcome.StatusCode,
		OK:         outcome.OK(),
	}
	if outcome.Kind == provider.OutcomeUnreachable && outcome.Err != nil {
		msg := outcome.Err.Error()
		attempt.Error = &msg
	}

	fields := []zap.Field{
		zap.String("noteId", note.ID),
		zap.Int("attempt", attemptNumber),
		zap.Int("statusCode", attempt.StatusCode),
		zap.Bool("ok", attempt.OK),
		zap.Int64("durationMs", duration.Milliseconds()),
	}
	if outcome.Err != nil {
		fields = append(fields, zap.Error(outcome.Err))
	}
	w.logger.Info("delivery attempt", fields...)

	updated, err := w.recordAttempt(ctx, note.ID, attempt)
	if errors.Is(err, errStaleObligation) {
		w.metrics.IncStaleObligation()
		return w.settle(ctx, lease)
	}
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if attempt.OK {
		if err := w.settle(ctx, lease); err != nil {
			return err
		}
		w.metrics.IncDelivered()
		w.publish(ctx, events.EventDelivered, updated.ID, len(updated.Attempts))
		return nil
	}

	decision, err := w.scheduler.Fail(ctx, lease, w.markDead)
	if errors.Is(err, queue.ErrLeaseLost) {
		w.logger.Warn("lease lost before failure was reported", zap.String("noteId", note.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to report failed attempt: %w", err)
	}

	if decision.Exhausted {
		w.logger.Warn("delivery attempts exhausted",
			zap.String("noteId", note.ID),
			zap.Int("attempts", decision.Attempts),
		)
		return nil
	}

	w.metrics.IncRetryScheduled()
	w.logger.Info("delivery retry scheduled",
		zap.String("noteId", note.ID),
		zap.Int("attempt", decision.Attempts),
		zap.Int64("delayMs", decision.Delay.Milliseconds()),
	)
	return nil
}

// exhaust settles an obligation redelivered with no attempts left: the note is marked dead
// without another webhook call.
func (w *DeliveryWorker) exhaust(ctx context.Context, lease *queue.Lease) error {
	decision, err := w.scheduler.Exhaust(ctx, lease, w.markDead)
	if errors.Is(err, queue.ErrLeaseLost) {
		w.logger.Warn("lease lost before exhaustion was reported", zap.String("noteId", lease.NoteID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to exhaust obligation: %w", err)
	}

	w.logger.Warn("delivery attempts exhausted",
		zap.String("noteId", lease.NoteID),
		zap.Int("attempts", decision.Attempts),
		zap.Bool("redelivered", true),
	)
	return nil
}

// recordAttempt appends the attempt with a conditional update, re-reading the note when
// another writer got there first.
func (w *DeliveryWorker) recordAttempt(ctx context.Context, noteID string, attempt domain.Attempt) (*domain.Note, error) {
	var lastErr error
	for i := 0; i < maxConflictRetries; i++ {
		updated, err := w.notes.Update(ctx, noteID, func(n *domain.Note) error {
			return n.RecordAttempt(attempt)
		}, domain.StatusPending)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		lastErr = err

		current, err := w.notes.GetByID(ctx, noteID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errStaleObligation
		}
		if err != nil {
			return nil, err
		}
		if current.Status != domain.StatusPending {
			return nil, errStaleObligation
		}
	}
	return nil, lastErr
}

// markDead runs when the scheduler exhausts an obligation, before it is discarded.
func (w *DeliveryWorker) markDead(ctx context.Context, noteID string, attempts int) error {
	for i := 0; i < maxConflictRetries; i++ {
		updated, err := w.notes.Update(ctx, noteID, func(n *domain.Note) error {
			return n.MarkDead()
		}, domain.StatusPending)
		if err == nil {
			w.metrics.IncDead()
			w.publish(ctx, events.EventDead, noteID, len(updated.Attempts))
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("failed to mark note dead after %d attempts: %w", attempts, err)
		}

		current, err := w.notes.GetByID(ctx, noteID)
		if err != nil {
			return fmt.Errorf("failed to reload note: %w", err)
		}
		if current.Status != domain.StatusPending {
			return nil
		}
	}
	return fmt.Errorf("%w: could not mark note %s dead", domain.ErrConflict, noteID)
}

func (w *DeliveryWorker) settle(ctx context.Context, lease *queue.Lease) error {
	err := w.scheduler.Ack(ctx, lease)
	if errors.Is(err, queue.ErrLeaseLost) {
		w.logger.Warn("lease lost before ack", zap.String("noteId", lease.NoteID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to ack obligation: %w", err)
	}
	return nil
}

func (w *DeliveryWorker) publish(ctx context.Context, eventType events.EventType, noteID string, attempts int) {
	event := events.NoteEvent{
		Type:     eventType,
		NoteID:   noteID,
		Attempts: attempts,
		At:       w.now().UTC(),
	}
	if err := publishWithTimeout(ctx, w.publisher, w.publishTimeout, event); err != nil {
		w.logger.Error("failed to publish note event",
			zap.String("noteId", noteID),
			zap.String("event", eventType.String()),
			zap.Error(err),
		)
	}
}

func publishWithTimeout(ctx context.Context, publisher events.Publisher, timeout time.Duration, event events.NoteEvent) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return publisher.Publish(ctx, event)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
