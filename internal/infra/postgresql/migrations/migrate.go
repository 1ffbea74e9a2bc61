package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createNotesTable(),
		createNoteAttemptsTable(),
		addNotesDueIndex(),
	}
}

func Migrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database is required")
	}
	return gormigrate.New(db, gormigrate.DefaultOptions, all()).Migrate()
}

// RollbackLast undoes the most recently applied migration.
func RollbackLast(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database is required")
	}
	return gormigrate.New(db, gormigrate.DefaultOptions, all()).RollbackLast()
}
