package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table in migration order
func Models() []interface{} {
	return []interface{}{
		&Responder{},
		&ScheduleSlot{},
		&Case{},
		&Response{},
		&KnowledgeEntry{},
		&Analysis{},
		&AutoResponse{},
		&ConversationState{},
		&PendingEscalation{},
		&Notification{},
		&EscalationRule{},
		&TroubleshootingSession{},
	}
}

// InitDB initializes the database connection and runs migrations.
// driver is "sqlite" (dsn is a file path) or "postgres" (dsn is a URL).
func InitDB(driver, dsn string) (*gorm.DB, error) {
	// Configure GORM
	config := &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:                              true,
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires DATABASE_URL")
		}
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		// Create directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn + "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=1")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate runs auto migrations in a fixed order
func Migrate(db *gorm.DB) error {
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}
