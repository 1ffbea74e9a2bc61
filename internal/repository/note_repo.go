package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/deaddrop/internal/domain"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	maxPageSize     = 100
)

type ListParams struct {
	Status   *domain.Status
	Page     int
	PageSize int
}

// MutateFunc changes a loaded note in place. Returning an error aborts the update.
type MutateFunc func(n *domain.Note) error

type NoteRepository interface {
	Create(ctx context.Context, n *domain.Note) error
	GetByID(ctx context.Context, id string) (*domain.Note, error)
	List(ctx context.Context, params ListParams) ([]domain.Note, int64, error)
	FindDue(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Note, error)
	Update(ctx context.Context, id string, mutate MutateFunc, expected ...domain.Status) (*domain.Note, error)
}

var _ NoteRepository = (*GormNoteRepo)(nil)

type GormNoteRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormNoteRepo(db *gorm.DB) *GormNoteRepo {
	return &GormNoteRepo{db: db, now: time.Now}
}

func (r *GormNoteRepo) Create(ctx context.Context, n *domain.Note) error {
	if n == nil {
		return fmt.Errorf("%w: note is required", domain.ErrValidation)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	model := noteModelFromDomain(n)
	model.ReleaseAt = model.ReleaseAt.UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if err := insertAttempts(tx, n.ID, 0, n.Attempts, model.CreatedAt); err != nil {
			return err
		}
		n.ReleaseAt = model.ReleaseAt
		n.CreatedAt = model.CreatedAt
		n.UpdatedAt = model.UpdatedAt
		return nil
	})
}

func (r *GormNoteRepo) GetByID(ctx context.Context, id string) (*domain.Note, error) {
	model, attempts, err := loadNote(r.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return noteModelToDomain(model, attempts), nil
}

func (r *GormNoteRepo) List(ctx context.Context, params ListParams) ([]domain.Note, int64, error) {
	query := r.db.WithContext(ctx).Model(&NoteModel{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	var models []NoteModel
	err := query.
		Order("release_at ASC").
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notes, err := withAttempts(r.db.WithContext(ctx), models)
	if err != nil {
		return nil, 0, err
	}
	return notes, total, nil
}

// FindDue returns notes in status whose release time is at or before before, oldest first.
// Attempts are not loaded.
func (r *GormNoteRepo) FindDue(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Note, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrValidation)
	}

	var models []NoteModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND release_at <= ?", status, before.UTC()).
		Order("release_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notes := make([]domain.Note, 0, len(models))
	for i := range models {
		notes = append(notes, *noteModelToDomain(&models[i], nil))
	}
	return notes, nil
}

// Update loads the note, applies mutate and writes the result back only if no other writer
// changed the note in between. When expected is non-empty the stored status must be one of
// them. Lost races and unexpected statuses return domain.ErrConflict. Errors returned by mutate
// are passed through unchanged.
func (r *GormNoteRepo) Update(ctx context.Context, id string, mutate MutateFunc, expected ...domain.Status) (*domain.Note, error) {
	if mutate == nil {
		return nil, fmt.Errorf("mutation is required")
	}

	var updated *domain.Note
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, attempts, err := loadNote(tx, id)
		if err != nil {
			return err
		}
		if len(expected) > 0 && !slices.Contains(expected, model.Status) {
			return fmt.Errorf("%w: note %s is %s", domain.ErrConflict, id, model.Status)
		}

		note := noteModelToDomain(model, attempts)
		known := len(note.Attempts)
		if err := mutate(note); err != nil {
			return err
		}
		if len(note.Attempts) < known {
			return fmt.Errorf("%w: attempt history cannot shrink", domain.ErrInvalidTransition)
		}
		if note.Status != model.Status && !domain.CanTransition(model.Status, note.Status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, model.Status, note.Status)
		}

		now := r.now().UTC()
		result := tx.Model(&NoteModel{}).
			Where("id = ? AND version = ?", id, model.Version).
			Updates(map[string]any{
				"status":       note.Status,
				"release_at":   note.ReleaseAt.UTC(),
				"delivered_at": note.DeliveredAt,
				"version":      model.Version + 1,
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: note %s was modified concurrently", domain.ErrConflict, id)
		}

		if err := insertAttempts(tx, id, known, note.Attempts[known:], now); err != nil {
			return err
		}

		note.UpdatedAt = now
		updated = note
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func loadNote(db *gorm.DB, id string) (*NoteModel, []NoteAttemptModel, error) {
	var model NoteModel
	err := db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var attempts []NoteAttemptModel
	if err := db.Where("note_id = ?", id).Order("seq ASC").Find(&attempts).Error; err != nil {
		return nil, nil, err
	}
	return &model, attempts, nil
}

func withAttempts(db *gorm.DB, models []NoteModel) ([]domain.Note, error) {
	notes := make([]domain.Note, 0, len(models))
	if len(models) == 0 {
		return notes, nil
	}

	ids := make([]string, 0, len(models))
	for i := range models {
		ids = append(ids, models[i].ID)
	}

	var attempts []NoteAttemptModel
	err := db.
		Where("note_id IN ?", ids).
		Order("note_id ASC").
		Order("seq ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}

	byNote := make(map[string][]NoteAttemptModel, len(models))
	for _, a := range attempts {
		byNote[a.NoteID] = append(byNote[a.NoteID], a)
	}
	for i := range models {
		notes = append(notes, *noteModelToDomain(&models[i], byNote[models[i].ID]))
	}
	return notes, nil
}

func insertAttempts(tx *gorm.DB, noteID string, offset int, attempts []domain.Attempt, createdAt time.Time) error {
	for i, a := range attempts {
		model := attemptModelFromDomain(noteID, offset+i+1, a)
		model.ID = uuid.NewString()
		model.At = model.At.UTC()
		model.CreatedAt = createdAt
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to insert attempt %d for note %s: %w", model.Seq, noteID, err)
		}
	}
	return nil
}
