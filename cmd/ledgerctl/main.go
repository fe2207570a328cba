package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"referral-gate/internal/config"
	"referral-gate/internal/store"
	"referral-gate/pkg/models"

	"go.uber.org/zap"
)

func main() {
	var (
		check      = flag.Bool("check", false, "Загрузить леджер и проверить инварианты")
		exportPath = flag.String("export", "", "Выгрузить леджер в JSON файл (- для stdout)")
		importPath = flag.String("import", "", "Загрузить леджер из JSON файла в настроенное хранилище")
		dryRun     = flag.Bool("dry-run", false, "Показать результат импорта без записи")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.LoadStorage()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	ctx := context.Background()

	// Подключение к хранилищу
	ledgerStore, err := store.NewStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к хранилищу", zap.Error(err))
	}
	defer ledgerStore.Close()

	switch {
	case *importPath != "":
		err = importLedger(ctx, ledgerStore, *importPath, *dryRun, logger)
	case *exportPath != "":
		err = exportLedger(ctx, ledgerStore, *exportPath, os.Stdout, logger)
	case *check:
		err = checkLedger(ctx, ledgerStore, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal("Ошибка выполнения команды", zap.Error(err))
	}
}

// summary сводка по леджеру для логов
func summary(ledger *models.Ledger) []zap.Field {
	var points, referrals int64
	for _, rec := range ledger.Users {
		points += rec.Points
		referrals += int64(len(rec.Invitees))
	}
	return []zap.Field{
		zap.Int("users", ledger.Len()),
		zap.Int64("points", points),
		zap.Int64("referrals", referrals),
	}
}

func checkLedger(ctx context.Context, ledgerStore store.Store, logger *zap.Logger) error {
	ledger, err := ledgerStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("ошибка загрузки леджера: %w", err)
	}

	logger.Info("Леджер загружен", summary(ledger)...)

	if err := ledger.Validate(); err != nil {
		return err
	}

	logger.Info("Инварианты соблюдены")
	return nil
}

func exportLedger(ctx context.Context, ledgerStore store.Store, path string, stdout io.Writer, logger *zap.Logger) error {
	ledger, err := ledgerStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("ошибка загрузки леджера: %w", err)
	}

	if path == "-" {
		data, err := store.EncodeLedger(ledger)
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}

	if err := store.NewFileStore(path, logger).Save(ctx, ledger); err != nil {
		return fmt.Errorf("ошибка выгрузки в %s: %w", path, err)
	}

	logger.Info("Леджер выгружен", append(summary(ledger), zap.String("path", path))...)
	return nil
}

func importLedger(ctx context.Context, ledgerStore store.Store, path string, dryRun bool, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	// Импорт не восстанавливается молча: поврежденный файл это ошибка
	ledger, err := store.DecodeLedger(data)
	if err != nil {
		return fmt.Errorf("файл %s поврежден: %w", path, err)
	}

	if err := ledger.Validate(); err != nil {
		if !errors.Is(err, models.ErrInvariant) {
			return err
		}
		logger.Warn("Импортируемый леджер нарушает инварианты", zap.Error(err))
	}

	if dryRun {
		logger.Info("DRY RUN: Будет импортировано", summary(ledger)...)
		return nil
	}

	if err := ledgerStore.Save(ctx, ledger); err != nil {
		return fmt.Errorf("ошибка сохранения леджера: %w", err)
	}

	logger.Info("Леджер импортирован", append(summary(ledger), zap.String("path", path))...)
	return nil
}
