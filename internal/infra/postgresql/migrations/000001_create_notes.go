package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/deaddrop/internal/repository"
	"gorm.io/gorm"
)

func createNotesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NoteModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_notes_status_release_at ON notes (status, release_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NoteModel{})
		},
	}
}
