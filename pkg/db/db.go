package db

import (
	"fmt"
	"os"

	constant "ecowatch/pkg/common"
	"ecowatch/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type DB struct {
	Conn *gorm.DB
}

// New opens the database behind dialector, migrates the schema and applies
// the sqlite pragmas the service relies on. Callers own the returned handle;
// opening twice gives two independent connections.
func New(dialector gorm.Dialector) (*DB, error) {
	var logger = constant.GetLogger()

	conn, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Connected to database with dialector:", zap.String("dialector", dialector.Name()))

	d := &DB{Conn: conn}

	err = d.Conn.AutoMigrate(&models.Reading{}, &models.DailySummary{}, &models.AlertEvent{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database migration completed")

	if err := d.Conn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable sqlite foreign key support: %w", err)
	}

	if err := d.Conn.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
		return nil, fmt.Errorf("failed to set sqlite journal mode: %w", err)
	}

	return d, nil
}

// UseSqliteDialector opens the database file at dbPath. The ECOWATCH_DB_PATH
// env var overrides dbPath when set; an empty path falls back to ecowatch.db
// in the working directory.
func UseSqliteDialector(dbPath string) gorm.Dialector {
	if fromEnv, found := os.LookupEnv(constant.EnvKeyDBPath); found {
		dbPath = fromEnv
	}
	if dbPath == "" {
		dbPath = "ecowatch.db"
	}
	return sqlite.Open(dbPath)
}

// UseMemorySqliteDialector names a fresh in-memory database on every call so
// concurrent tests never share tables.
func UseMemorySqliteDialector() gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("file:mem_%s?mode=memory&cache=shared", uuid.NewString()))
}
