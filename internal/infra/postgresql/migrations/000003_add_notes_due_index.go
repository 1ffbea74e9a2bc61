package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addNotesDueIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_notes_due_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_notes_pending_due ON notes (release_at) WHERE status = 'pending'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_notes_pending_due`).Error
		},
	}
}
