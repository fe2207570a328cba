package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"referral-gate/internal/metrics"

	"go.uber.org/zap"
)

// Status статус пользователя в канале, как его сообщает платформа
type Status string

const (
	StatusCreator       Status = "creator"
	StatusAdministrator Status = "administrator"
	StatusMember        Status = "member"
	StatusRestricted    Status = "restricted"
	StatusLeft          Status = "left"
	StatusKicked        Status = "kicked"
	StatusUnknown       Status = ""
)

// Satisfies засчитываются только member, administrator и creator
func (s Status) Satisfies() bool {
	switch s {
	case StatusMember, StatusAdministrator, StatusCreator:
		return true
	default:
		return false
	}
}

// Oracle внешний источник статуса участника канала
type Oracle interface {
	MembershipStatus(ctx context.Context, channel, userID string) (Status, error)
}

// Cache хранит только положительные результаты проверки с ограниченным TTL
type Cache interface {
	Get(ctx context.Context, channel, userID string) (bool, error)
	Set(ctx context.Context, channel, userID string, ttl time.Duration) error
}

// ChannelResult результат проверки одного канала
type ChannelResult struct {
	Channel   string
	Status    Status
	Satisfied bool
	Cached    bool
	Err       error
}

// Result итог проверки подписки
type Result struct {
	Admitted bool
	Channels []ChannelResult
}

// Missing возвращает каналы, условие по которым не выполнено
func (r Result) Missing() []string {
	var out []string
	for _, ch := range r.Channels {
		if !ch.Satisfied {
			out = append(out, ch.Channel)
		}
	}
	return out
}

// Gate проверяет подписку пользователя на все обязательные каналы.
// Ошибки оракула трактуются как отсутствие подписки и наружу не возвращаются.
type Gate struct {
	oracle   Oracle
	channels []string
	timeout  time.Duration
	cache    Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option настройка Gate
type Option func(*Gate)

// WithCache включает кэш положительных результатов
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(g *Gate) {
		if cache != nil && ttl > 0 {
			g.cache = cache
			g.cacheTTL = ttl
		}
	}
}

// NewGate создает проверку подписки
func NewGate(oracle Oracle, channels []string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		oracle:   oracle,
		channels: append([]string(nil), channels...),
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Channels возвращает список обязательных каналов
func (g *Gate) Channels() []string {
	return append([]string(nil), g.channels...)
}

// Check опрашивает все каналы параллельно, каждый со своим таймаутом
func (g *Gate) Check(ctx context.Context, userID string) Result {
	results := make([]ChannelResult, len(g.channels))

	var wg sync.WaitGroup
	for i, channel := range g.channels {
		wg.Add(1)
		go func(i int, channel string) {
			defer wg.Done()
			results[i] = g.checkChannel(ctx, channel, userID)
		}(i, channel)
	}
	wg.Wait()

	admitted := true
	for _, r := range results {
		if !r.Satisfied {
			admitted = false
		}
	}

	g.metrics.RecordMembershipCheck(admitted)
	g.logger.Debug("проверка подписки",
		zap.String("user_id", userID),
		zap.Bool("admitted", admitted),
		zap.Strings("missing", Result{Channels: results}.Missing()))

	return Result{Admitted: admitted, Channels: results}
}

func (g *Gate) checkChannel(ctx context.Context, channel, userID string) ChannelResult {
	res := ChannelResult{Channel: channel}

	if g.cache != nil {
		ok, err := g.cache.Get(ctx, channel, userID)
		if err != nil {
			g.logger.Warn("ошибка чтения кэша подписки",
				zap.String("channel", channel),
				zap.String("user_id", userID),
				zap.Error(err))
		} else if ok {
			g.metrics.RecordCacheHit()
			res.Satisfied = true
			res.Cached = true
			return res
		}
	}

	status, err := g.queryOracle(ctx, channel, userID)
	if err != nil {
		g.metrics.RecordOracleError(channel)
		g.logger.Warn("ошибка проверки подписки, считаем что пользователь не подписан",
			zap.String("channel", channel),
			zap.String("user_id", userID),
			zap.Error(err))
		res.Err = err
		return res
	}

	res.Status = status
	res.Satisfied = status.Satisfies()

	if res.Satisfied && g.cache != nil {
		if err := g.cache.Set(ctx, channel, userID, g.cacheTTL); err != nil {
			g.logger.Warn("ошибка записи кэша подписки",
				zap.String("channel", channel),
				zap.Error(err))
		}
	}

	return res
}

// queryOracle ограничивает запрос таймаутом, даже если оракул игнорирует контекст
func (g *Gate) queryOracle(ctx context.Context, channel, userID string) (Status, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type answer struct {
		status Status
		err    error
	}
	done := make(chan answer, 1)
	go func() {
		status, err := g.oracle.MembershipStatus(ctx, channel, userID)
		done <- answer{status: status, err: err}
	}()

	select {
	case a := <-done:
		return a.status, a.err
	case <-ctx.Done():
		return StatusUnknown, fmt.Errorf("таймаут запроса статуса в %s: %w", channel, ctx.Err())
	}
}
