package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики онбординга и реферального леджера
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	// Счетчики регистраций
	signups *prometheus.CounterVec

	// Счетчики реферальных начислений
	referralAwards  prometheus.Counter
	referralSkipped *prometheus.CounterVec
	pointsAwarded   prometheus.Counter

	// Счетчики проверки подписки
	membershipChecks *prometheus.CounterVec
	oracleErrors     *prometheus.CounterVec
	cacheHits        prometheus.Counter

	// Уведомления рефереров
	notifications *prometheus.CounterVec

	// Гистограмма времени сохранения леджера
	ledgerSaveTime *prometheus.HistogramVec

	// Gauge состояния леджера
	ledgerUsers     prometheus.Gauge
	ledgerPoints    prometheus.Gauge
	ledgerReferrals prometheus.Gauge
}

// New создает новую систему метрик с собственным реестром
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),

		signups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signups_total",
				Help: "Количество обработанных /start",
			},
			[]string{"result"}, // created, replay, failed
		),

		referralAwards: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "referral_awards_total",
				Help: "Количество зачтенных приглашений",
			},
		),

		referralSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_skipped_total",
				Help: "Регистрации без начисления по причинам",
			},
			[]string{"reason"}, // no_token, unknown_referrer, self_referral, already_invited, replay
		),

		pointsAwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "referral_points_awarded_total",
				Help: "Сумма начисленных очков",
			},
		),

		membershipChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_checks_total",
				Help: "Проверки подписки на обязательные каналы",
			},
			[]string{"result"}, // admitted, denied
		),

		oracleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_oracle_errors_total",
				Help: "Ошибки запросов статуса участника",
			},
			[]string{"channel"},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "membership_cache_hits_total",
				Help: "Попадания в кэш проверки подписки",
			},
		),

		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referrer_notifications_total",
				Help: "Уведомления рефереров о начислении",
			},
			[]string{"status"}, // success, failed
		),

		ledgerSaveTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_save_duration_seconds",
				Help:    "Время сохранения леджера в секундах",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		ledgerUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_users",
				Help: "Количество пользователей в леджере",
			},
		),

		ledgerPoints: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_points",
				Help: "Сумма очков всех пользователей",
			},
		),

		ledgerReferrals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_referrals",
				Help: "Количество зачтенных приглашений в леджере",
			},
		),
	}

	// Регистрируем все метрики
	m.registry.MustRegister(
		m.signups,
		m.referralAwards,
		m.referralSkipped,
		m.pointsAwarded,
		m.membershipChecks,
		m.oracleErrors,
		m.cacheHits,
		m.notifications,
		m.ledgerSaveTime,
		m.ledgerUsers,
		m.ledgerPoints,
		m.ledgerReferrals,
	)

	return m
}

// RecordSignup записывает результат регистрации
func (m *Metrics) RecordSignup(result string) {
	m.signups.WithLabelValues(result).Inc()
}

// RecordReferralAward записывает начисление за приглашение
func (m *Metrics) RecordReferralAward(points int64) {
	m.referralAwards.Inc()
	m.pointsAwarded.Add(float64(points))
}

// RecordReferralSkipped записывает причину, по которой начисления не было
func (m *Metrics) RecordReferralSkipped(reason string) {
	m.referralSkipped.WithLabelValues(reason).Inc()
}

// RecordMembershipCheck записывает итог проверки подписки
func (m *Metrics) RecordMembershipCheck(admitted bool) {
	result := "admitted"
	if !admitted {
		result = "denied"
	}
	m.membershipChecks.WithLabelValues(result).Inc()
}

// RecordOracleError записывает ошибку запроса статуса в канале
func (m *Metrics) RecordOracleError(channel string) {
	m.oracleErrors.WithLabelValues(channel).Inc()
}

// RecordCacheHit записывает попадание в кэш подписки
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// RecordNotification записывает результат отправки уведомления
func (m *Metrics) RecordNotification(success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.notifications.WithLabelValues(status).Inc()
}

// ObserveLedgerSave добавляет наблюдение времени сохранения
func (m *Metrics) ObserveLedgerSave(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.ledgerSaveTime.WithLabelValues(status).Observe(d.Seconds())
}

// SetLedgerStats обновляет gauge состояния леджера
func (m *Metrics) SetLedgerStats(users, points, referrals int64) {
	m.ledgerUsers.Set(float64(users))
	m.ledgerPoints.Set(float64(points))
	m.ledgerReferrals.Set(float64(referrals))
	m.logger.Debug("метрики леджера обновлены",
		zap.Int64("users", users),
		zap.Int64("points", points),
		zap.Int64("referrals", referrals))
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
