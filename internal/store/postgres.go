package store

import (
	"context"
	"fmt"
	"time"

	"referral-gate/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const pgUpsertUser = `
	INSERT INTO ledger_users (user_id, points, invites, daily)
	VALUES ($1, $2, $3::jsonb, $4::jsonb)
	ON CONFLICT (user_id) DO UPDATE
	SET points = EXCLUDED.points,
	    invites = EXCLUDED.invites,
	    daily = EXCLUDED.daily,
	    updated_at = NOW()
	WHERE ledger_users.points IS DISTINCT FROM EXCLUDED.points
	   OR ledger_users.invites IS DISTINCT FROM EXCLUDED.invites
	   OR ledger_users.daily IS DISTINCT FROM EXCLUDED.daily`

// PostgresStore хранит леджер в таблице ledger_users
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore создает пул подключений к PostgreSQL
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Проверка подключения
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	return &PostgresStore{db: db, logger: logger}, nil
}

// Load читает все записи леджера
func (s *PostgresStore) Load(ctx context.Context) (*models.Ledger, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id, points, invites, daily FROM ledger_users`)
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
			invites []byte
			daily   []byte
		)
		if err := rows.Scan(&userID, &points, &invites, &daily); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи леджера: %w", err)
		}

		rec, err := decodeRecord(points, invites, daily)
		if err != nil {
			corrupt = fmt.Errorf("%w: запись %s: %v", ErrCorrupt, userID, err)
			break
		}
		ledger.Users[userID] = rec
	}
	if corrupt != nil {
		return recoverCorrupt(s.logger, "postgres", corrupt), nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения леджера: %w", err)
	}

	warnInvariants(s.logger, "postgres", ledger)

	s.logger.Info("леджер загружен из PostgreSQL", zap.Int("users", ledger.Len()))
	return ledger, nil
}

// Save перезаписывает таблицу содержимым леджера в одной транзакции
func (s *PostgresStore) Save(ctx context.Context, ledger *models.Ledger) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := ledger.IDs()

	batch := &pgx.Batch{}
	for _, id := range ids {
		invites, daily, err := encodeRecord(ledger.Users[id])
		if err != nil {
			return err
		}
		batch.Queue(pgUpsertUser, id, ledger.Users[id].Points, invites, daily)
	}
	batch.Queue(`DELETE FROM ledger_users WHERE NOT (user_id = ANY($1))`, ids)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ошибка сохранения леджера: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// Close закрывает пул подключений
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
