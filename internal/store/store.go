package store

import (
	"context"
	"errors"
	"fmt"

	"referral-gate/internal/config"
	"referral-gate/internal/migrations"
	"referral-gate/pkg/models"

	"go.uber.org/zap"
)

// Store долговременное хранилище реферального леджера.
//
// Load никогда не падает из-за повреждённых данных: невалидное состояние
// логируется и заменяется пустым леджером. Ошибкой возвращается только сбой ввода-вывода.
// Save полностью перезаписывает сохранённое состояние атомарно.
type Store interface {
	Load(ctx context.Context) (*models.Ledger, error)
	Save(ctx context.Context, ledger *models.Ledger) error
	Close() error
}

// ErrUnknownDriver неизвестный STORAGE_DRIVER
var ErrUnknownDriver = errors.New("неизвестный драйвер хранилища")

// NewStore создает хранилище по настройкам STORAGE_DRIVER
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Driver {
	case "file":
		return NewFileStore(cfg.Storage.LedgerFile, logger), nil

	case "postgres":
		if err := migrations.RunMigrations(cfg, logger); err != nil {
			return nil, fmt.Errorf("ошибка применения миграций: %w", err)
		}
		return NewPostgresStore(ctx, cfg.Database.GetDSN(), logger)

	case "sqlite":
		return OpenSQLiteStore(ctx, cfg.Storage.SQLitePath, logger)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Storage.Driver)
	}
}

// recoverCorrupt логирует повреждение и возвращает пустой леджер
func recoverCorrupt(logger *zap.Logger, backend string, err error) *models.Ledger {
	logger.Error("сохранённый леджер повреждён, используем пустой",
		zap.String("backend", backend),
		zap.Error(err))
	return models.NewLedger()
}

// warnInvariants сообщает о нарушениях ссылочных инвариантов, не отбрасывая данные
func warnInvariants(logger *zap.Logger, backend string, ledger *models.Ledger) {
	if err := ledger.Validate(); err != nil {
		logger.Warn("леджер загружен с нарушениями инвариантов",
			zap.String("backend", backend),
			zap.Error(err))
	}
}
