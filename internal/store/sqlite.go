package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"referral-gate/internal/migrations"
	"referral-gate/pkg/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteUpsertUser = `
	INSERT INTO ledger_users (user_id, points, invites, daily)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE
	SET points = excluded.points,
	    invites = excluded.invites,
	    daily = excluded.daily,
	    updated_at = CURRENT_TIMESTAMP`

// SQLiteStore хранит леджер в локальной базе SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteStore открывает базу и применяет миграции
func OpenSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("не указан путь к базе SQLite")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы SQLite: %w", err)
	}
	// Одна запись за раз; параллельные писатели SQLite не нужны
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка проверки базы SQLite: %w", err)
	}

	if err := migrations.Up(db, migrations.DialectSQLite, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("база SQLite открыта", zap.String("path", path))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load читает все записи леджера
func (s *SQLiteStore) Load(ctx context.Context) (*models.Ledger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, points, invites, daily FROM ledger_users`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения леджера: %w", err)
	}
	defer rows.Close()

	ledger := models.NewLedger()
	var corrupt error
	for rows.Next() {
		var (
			userID  string
			points  int64
			invites string
			daily   string
		)
		if err := rows.Scan(&userID, &points, &invites, &daily); err != nil {
			corrupt = fmt.Errorf("%w: %v", ErrCorrupt, err)
			break
		}

		rec, err := decodeRecord(points, []byte(invites), []byte(daily))
		if err != nil {
			corrupt = fmt.Errorf("%w: запись %s: %v", ErrCorrupt, userID, err)
			break
		}
		ledger.Users[userID] = rec
	}
	if corrupt != nil {
		return recoverCorrupt(s.logger, "sqlite", corrupt), nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения леджера: %w", err)
	}

	warnInvariants(s.logger, "sqlite", ledger)

	s.logger.Info("леджер загружен из SQLite", zap.Int("users", ledger.Len()))
	return ledger, nil
}

// Save перезаписывает таблицу содержимым леджера в одной транзакции
func (s *SQLiteStore) Save(ctx context.Context, ledger *models.Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	stale, err := s.staleIDs(ctx, tx, ledger)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_users WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("ошибка удаления записи %s: %w", id, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertUser)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, id := range ledger.IDs() {
		rec := ledger.Users[id]
		invites, daily, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, rec.Points, invites, daily); err != nil {
			return fmt.Errorf("ошибка сохранения записи %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// staleIDs возвращает ID строк, которых больше нет в леджере
func (s *SQLiteStore) staleIDs(ctx context.Context, tx *sql.Tx, ledger *models.Ledger) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM ledger_users`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ID леджера: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования ID: %w", err)
		}
		if !ledger.Has(id) {
			stale = append(stale, id)
		}
	}
	return stale, rows.Err()
}

// Close закрывает базу
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
