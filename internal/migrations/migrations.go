package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"referral-gate/internal/config"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Диалекты goose и соответствующие каталоги миграций
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

//go:embed postgres/*.sql sqlite/*.sql
var migrationsFS embed.FS

// goose хранит диалект и FS глобально
var gooseMu sync.Mutex

// RunMigrations применяет миграции к базе данных PostgreSQL
func RunMigrations(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("начало применения миграций")

	// Создаем временное подключение к базе данных для миграций
	db, err := sql.Open("postgres", cfg.Database.GetURL())
	if err != nil {
		return fmt.Errorf("ошибка подключения к базе данных для миграций: %w", err)
	}
	defer db.Close()

	if err := Up(db, DialectPostgres, logger); err != nil {
		return err
	}

	logger.Info("миграции успешно применены")
	return nil
}

// Up применяет встроенные миграции указанного диалекта к открытому подключению
func Up(db *sql.DB, dialect string, logger *zap.Logger) error {
	dir, err := dirFor(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("ошибка установки диалекта: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	logger.Debug("миграции применены", zap.String("dialect", dialect))
	return nil
}

// Status выводит статус миграций
func Status(db *sql.DB, dialect string, logger *zap.Logger) error {
	dir, err := dirFor(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("ошибка установки диалекта: %w", err)
	}

	if err := goose.Status(db, dir); err != nil {
		return fmt.Errorf("ошибка получения статуса миграций: %w", err)
	}

	logger.Info("статус миграций получен", zap.String("dialect", dialect))
	return nil
}

func dirFor(dialect string) (string, error) {
	switch dialect {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("неизвестный диалект миграций: %s", dialect)
	}
}
