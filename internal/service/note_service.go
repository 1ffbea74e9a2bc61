package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/deaddrop/internal/domain"
	"github.com/kursadbilgin/deaddrop/internal/events"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/kursadbilgin/deaddrop/internal/queue"
	"github.com/kursadbilgin/deaddrop/internal/repository"
	"go.uber.org/zap"
)

type CreateNoteInput struct {
	Title      string
	Body       string
	ReleaseAt  time.Time
	WebhookURL string
}

type ListNotesInput struct {
	Status string
	Page   int
}

type NoteList struct {
	Notes    []domain.Note
	Total    int64
	Page     int
	PageSize int
}

// NoteService owns the operator-facing operations: create, read, list and replay.
type NoteService struct {
	notes     repository.NoteRepository
	scheduler queue.Scheduler
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	publishTimeout time.Duration
}

// NewNoteService builds the service. scheduler may be nil, in which case replayed notes
// wait for the next poll cycle.
func NewNoteService(
	notes repository.NoteRepository,
	scheduler queue.Scheduler,
	publisher events.Publisher,
	logger *zap.Logger,
) (*NoteService, error) {
	if notes == nil {
		return nil, fmt.Errorf("note repository is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NoteService{
		notes:     notes,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,

		publishTimeout: DefaultPublishTimeout,
	}, nil
}

func (s *NoteService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *NoteService) Create(ctx context.Context, in CreateNoteInput) (*domain.Note, error) {
	note := &domain.Note{
		ID:         uuid.NewString(),
		Title:      strings.TrimSpace(in.Title),
		Body:       in.Body,
		ReleaseAt:  in.ReleaseAt.UTC(),
		WebhookURL: strings.TrimSpace(in.WebhookURL),
		Status:     domain.StatusPending,
	}
	if err := note.Validate(); err != nil {
		return nil, err
	}

	if err := s.notes.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("note created",
		zap.String("noteId", note.ID),
		zap.Time("releaseAt", note.ReleaseAt),
	)
	return note, nil
}

func (s *NoteService) GetByID(ctx context.Context, id string) (*domain.Note, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	return s.notes.GetByID(ctx, id)
}

func (s *NoteService) List(ctx context.Context, in ListNotesInput) (*NoteList, error) {
	params := repository.ListParams{
		Page:     max(in.Page, 1),
		PageSize: repository.DefaultPageSize,
	}
	if raw := strings.TrimSpace(in.Status); raw != "" {
		status, err := domain.ParseStatusFromString(raw)
		if err != nil {
			return nil, err
		}
		params.Status = &status
	}

	notes, total, err := s.notes.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	return &NoteList{
		Notes:    notes,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}, nil
}

// Replay moves a failed or dead note back to pending with releaseAt set to now.
// Any other status yields domain.ErrNotReplayable and leaves the note untouched.
func (s *NoteService) Replay(ctx context.Context, id string) (*domain.Note, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}

	now := s.now().UTC()
	note, err := s.notes.Update(ctx, id, func(n *domain.Note) error {
		return n.Replay(now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNotReplayable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to replay note: %w", err)
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	logger.Info("note replayed",
		zap.String("noteId", note.ID),
		zap.Int("previousAttempts", len(note.Attempts)),
	)
	s.metrics.IncReplayed()

	if s.scheduler != nil {
		if _, err := s.scheduler.Enqueue(ctx, note.ID); err != nil {
			logger.Warn("failed to enqueue replayed note, poller will pick it up",
				zap.String("noteId", note.ID),
				zap.Error(err),
			)
		}
	}

	event := events.NoteEvent{
		Type:     events.EventReplayed,
		NoteID:   note.ID,
		Attempts: len(note.Attempts),
		At:       now,
	}
	if err := publishWithTimeout(ctx, s.publisher, s.publishTimeout, event); err != nil {
		logger.Error("failed to publish note event",
			zap.String("noteId", note.ID),
			zap.String("event", event.Type.String()),
			zap.Error(err),
		)
	}

	return note, nil
}
