package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper кэш с ручной очисткой просроченных записей
type Sweeper interface {
	Sweep() int
}

// CacheSweepJob убирает просроченные записи кэша подписки
type CacheSweepJob struct {
	cache  Sweeper
	logger *zap.Logger
}

// NewCacheSweepJob создает задачу очистки кэша
func NewCacheSweepJob(cache Sweeper, logger *zap.Logger) *CacheSweepJob {
	return &CacheSweepJob{cache: cache, logger: logger}
}

func (j *CacheSweepJob) Name() string { return "membership_cache_sweep" }

func (j *CacheSweepJob) Run(_ context.Context) error {
	if removed := j.cache.Sweep(); removed > 0 {
		j.logger.Debug("очищен кэш подписки", zap.Int("removed", removed))
	}
	return nil
}

// StatsPublisher публикует сводку леджера в метрики
type StatsPublisher interface {
	PublishStats()
}

// LedgerStatsJob обновляет gauge метрики леджера
type LedgerStatsJob struct {
	publisher StatsPublisher
}

// NewLedgerStatsJob создает задачу публикации статистики
func NewLedgerStatsJob(publisher StatsPublisher) *LedgerStatsJob {
	return &LedgerStatsJob{publisher: publisher}
}

func (j *LedgerStatsJob) Name() string { return "ledger_stats" }

func (j *LedgerStatsJob) Run(_ context.Context) error {
	j.publisher.PublishStats()
	return nil
}

// Cleaner держатель состояния, которое можно обрезать по времени простоя
type Cleaner interface {
	Cleanup(idle time.Duration) int
}

// RateLimiterCleanupJob удаляет лимитеры неактивных пользователей
type RateLimiterCleanupJob struct {
	limiter Cleaner
	idle    time.Duration
	logger  *zap.Logger
}

// NewRateLimiterCleanupJob создает задачу очистки rate limiter
func NewRateLimiterCleanupJob(limiter Cleaner, idle time.Duration, logger *zap.Logger) *RateLimiterCleanupJob {
	return &RateLimiterCleanupJob{limiter: limiter, idle: idle, logger: logger}
}

func (j *RateLimiterCleanupJob) Name() string { return "rate_limiter_cleanup" }

func (j *RateLimiterCleanupJob) Run(_ context.Context) error {
	if removed := j.limiter.Cleanup(j.idle); removed > 0 {
		j.logger.Debug("очищены лимитеры неактивных пользователей", zap.Int("removed", removed))
	}
	return nil
}
