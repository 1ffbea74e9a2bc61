package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/deaddrop/internal/domain"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/kursadbilgin/deaddrop/internal/queue"
	"github.com/kursadbilgin/deaddrop/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultPollBatchSize = 100
)

type depthReporter interface {
	Depth(ctx context.Context) (ready int64, inflight int64, err error)
}

// Poller periodically hands due pending notes to the scheduler.
// Cycles run on a single goroutine, so they never overlap.
type Poller struct {
	notes     repository.NoteRepository
	scheduler queue.Scheduler
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewPoller(
	notes repository.NoteRepository,
	scheduler queue.Scheduler,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Poller, error) {
	if notes == nil {
		return nil, fmt.Errorf("note repository is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if limit <= 0 {
		limit = defaultPollBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{
		notes:     notes,
		scheduler: scheduler,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (p *Poller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *Poller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.logger.Info("poller started",
		zap.Duration("interval", p.interval),
		zap.Int("batchSize", p.limit),
	)

	if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("poller initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("poller scan failed", zap.Error(err))
			}
		}
	}
}

// PollOnce runs one cycle and returns how many new obligations were admitted.
// Per-note enqueue failures are logged and skipped; the next cycle picks them up again.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	due, err := p.notes.FindDue(ctx, domain.StatusPending, p.now().UTC(), p.limit)
	if err != nil {
		p.metrics.IncPollError()
		return 0, fmt.Errorf("failed to fetch due notes: %w", err)
	}

	enqueued := 0
	for i := range due {
		noteID := due[i].ID
		added, err := p.scheduler.Enqueue(ctx, noteID)
		if err != nil {
			p.logger.Error("failed to enqueue due note",
				zap.String("noteId", noteID),
				zap.Error(err),
			)
			continue
		}
		if added {
			enqueued++
		}
	}

	p.metrics.AddPollEnqueued(enqueued)
	if enqueued > 0 {
		p.logger.Info("enqueued due notes",
			zap.Int("due", len(due)),
			zap.Int("enqueued", enqueued),
		)
	}

	if reporter, ok := p.scheduler.(depthReporter); ok && p.metrics != nil {
		ready, inflight, err := reporter.Depth(ctx)
		if err != nil {
			p.logger.Warn("failed to read queue depth", zap.Error(err))
		} else {
			p.metrics.SetQueueDepth(ready, inflight)
		}
	}

	return enqueued, nil
}
