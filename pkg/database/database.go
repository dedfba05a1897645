package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aldoetobex/weka-backend/pkg/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// gormWriter sends gorm's slow-query and error lines to logrus.
type gormWriter struct{ entry *logrus.Entry }

func (w gormWriter) Printf(format string, args ...any) {
	w.entry.Warnf(format, args...)
}

// Open connects with the given driver. TranslateError is on so unique
// violations surface as gorm.ErrDuplicatedKey on both drivers. A nil log
// falls back to the logrus standard logger.
func Open(driver, dsn string, log *logrus.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var dialector gorm.Dialector
	switch driver {
	case "", DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(
			gormWriter{entry: log.WithField("component", "gorm")},
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; serialise through a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Init opens and migrates.
func Init(driver, dsn string, log *logrus.Logger) (*gorm.DB, error) {
	db, err := Open(driver, dsn, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
