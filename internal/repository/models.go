package repository

import (
	"time"

	"github.com/kursadbilgin/deaddrop/internal/domain"
)

// NoteModel is the persistence model for the notes table.
type NoteModel struct {
	ID          string        `gorm:"type:varchar(36);primaryKey"`
	Title       string        `gorm:"type:varchar(200);not null"`
	Body        string        `gorm:"type:text;not null"`
	ReleaseAt   time.Time     `gorm:"not null"`
	WebhookURL  string        `gorm:"type:text;not null"`
	Status      domain.Status `gorm:"type:varchar(20);not null"`
	DeliveredAt *time.Time
	Version     int `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (NoteModel) TableName() string {
	return "notes"
}

// NoteAttemptModel is the persistence model for note_attempts.
// Seq is the 1-based position of the attempt in the note's history.
type NoteAttemptModel struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	NoteID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_note_attempts_note_seq"`
	Seq        int       `gorm:"not null;uniqueIndex:idx_note_attempts_note_seq"`
	At         time.Time `gorm:"not null"`
	StatusCode int       `gorm:"not null;default:0"`
	OK         bool      `gorm:"column:ok;not null"`
	Error      *string   `gorm:"type:text"`
	CreatedAt  time.Time
}

func (NoteAttemptModel) TableName() string {
	return "note_attempts"
}

func noteModelFromDomain(n *domain.Note) *NoteModel {
	if n == nil {
		return nil
	}

	return &NoteModel{
		ID:          n.ID,
		Title:       n.Title,
		Body:        n.Body,
		ReleaseAt:   n.ReleaseAt,
		WebhookURL:  n.WebhookURL,
		Status:      n.Status,
		DeliveredAt: n.DeliveredAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func noteModelToDomain(m *NoteModel, attempts []NoteAttemptModel) *domain.Note {
	if m == nil {
		return nil
	}

	n := &domain.Note{
		ID:          m.ID,
		Title:       m.Title,
		Body:        m.Body,
		ReleaseAt:   m.ReleaseAt,
		WebhookURL:  m.WebhookURL,
		Status:      m.Status,
		DeliveredAt: m.DeliveredAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Attempts:    make([]domain.Attempt, 0, len(attempts)),
	}
	for i := range attempts {
		n.Attempts = append(n.Attempts, attemptModelToDomain(&attempts[i]))
	}
	return n
}

func attemptModelFromDomain(noteID string, seq int, a domain.Attempt) *NoteAttemptModel {
	return &NoteAttemptModel{
		NoteID:     noteID,
		Seq:        seq,
		At:         a.At,
		StatusCode: a.StatusCode,
		OK:         a.OK,
		Error:      a.Error,
	}
}

func attemptModelToDomain(m *NoteAttemptModel) domain.Attempt {
	return domain.Attempt{
		At:         m.At,
		StatusCode: m.StatusCode,
		OK:         m.OK,
		Error:      m.Error,
	}
}
