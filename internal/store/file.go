package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"referral-gate/pkg/models"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// FileStore хранит леджер в одном JSON файле
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore создает файловое хранилище
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		path:   filepath.Clean(path),
		logger: logger,
	}
}

// Path возвращает путь к файлу леджера
func (s *FileStore) Path() string {
	return s.path
}

// Load читает леджер. Отсутствующий файл создается с пустым леджером,
// повреждённый сохраняется рядом с суффиксом .corrupt и заменяется пустым леджером.
func (s *FileStore) Load(ctx context.Context) (*models.Ledger, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		ledger := models.NewLedger()
		if err := s.Save(ctx, ledger); err != nil {
			return nil, fmt.Errorf("ошибка создания файла леджера: %w", err)
		}
		s.logger.Info("создан новый файл леджера", zap.String("path", s.path))
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла леджера: %w", err)
	}

	ledger, err := DecodeLedger(data)
	if err != nil {
		s.backupCorrupt(data)
		return recoverCorrupt(s.logger, "file", err), nil
	}

	warnInvariants(s.logger, "file", ledger)

	s.logger.Info("леджер загружен",
		zap.String("path", s.path),
		zap.Int("users", ledger.Len()))

	return ledger, nil
}

// Save атомарно перезаписывает файл: временный файл, fsync и rename
func (s *FileStore) Save(ctx context.Context, ledger *models.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeLedger(ledger)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ошибка создания директории леджера: %w", err)
		}
	}

	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи файла леджера: %w", err)
	}

	return nil
}

// Close ничего не освобождает, файл не держится открытым
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) backupCorrupt(data []byte) {
	backup := s.path + ".corrupt"
	if err := renameio.WriteFile(backup, data, 0o600); err != nil {
		s.logger.Warn("не удалось сохранить копию повреждённого леджера",
			zap.String("path", backup),
			zap.Error(err))
		return
	}
	s.logger.Warn("копия повреждённого леджера сохранена", zap.String("path", backup))
}
