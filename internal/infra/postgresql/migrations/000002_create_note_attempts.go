package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/deaddrop/internal/repository"
	"gorm.io/gorm"
)

func createNoteAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_note_attempts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.NoteAttemptModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NoteAttemptModel{})
		},
	}
}
