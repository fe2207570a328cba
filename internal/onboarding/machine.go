package onboarding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"referral-gate/internal/membership"
	"referral-gate/internal/metrics"
	"referral-gate/internal/referral"
	"referral-gate/internal/store"
	"referral-gate/pkg/models"

	"go.uber.org/zap"
)

// State состояние пользователя в онбординге
type State string

const (
	StateNew        State = "NEW"
	StateUnverified State = "UNVERIFIED"
	StateAdmitted   State = "ADMITTED"
)

// rewardNotice текст уведомления пригласившему
const rewardNotice = "🎉 По вашей ссылке присоединился новый пользователь!\nВам начислено %d очков."

// Notifier доставляет сообщение пользователю
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// Checker проверяет подписку на обязательные каналы
type Checker interface {
	Check(ctx context.Context, userID string) membership.Result
}

// SignupResult итог регистрации
type SignupResult struct {
	Created  bool
	Decision referral.Decision
	Notified bool
}

// VerifyResult итог проверки подписки
type VerifyResult struct {
	State   State
	Missing []string
	Detail  membership.Result
}

// Admitted сообщает, прошел ли пользователь проверку
func (r VerifyResult) Admitted() bool {
	return r.State == StateAdmitted
}

// Stats сводка по леджеру
type Stats struct {
	Users     int64
	Points    int64
	Referrals int64
}

// Machine владеет леджером в памяти. Любое чтение-изменение-запись, включая
// сохранение, выполняется под одним мьютексом; проверка подписки идет без него.
type Machine struct {
	mu     sync.Mutex
	ledger *models.Ledger

	store    store.Store
	engine   *referral.Engine
	gate     Checker
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New загружает леджер из хранилища и создает машину состояний
func New(ctx context.Context, st store.Store, engine *referral.Engine, gate Checker, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) (*Machine, error) {
	ledger, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки леджера: %w", err)
	}

	mc := NewWithLedger(ledger, st, engine, gate, notifier, m, logger)

	stats := mc.Stats()
	logger.Info("леджер загружен",
		zap.Int64("users", stats.Users),
		zap.Int64("points", stats.Points),
		zap.Int64("referrals", stats.Referrals))

	return mc, nil
}

// NewWithLedger создает машину поверх уже загруженного леджера
func NewWithLedger(ledger *models.Ledger, st store.Store, engine *referral.Engine, gate Checker, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Machine {
	if ledger == nil {
		ledger = models.NewLedger()
	}

	mc := &Machine{
		ledger:   ledger,
		store:    st,
		engine:   engine,
		gate:     gate,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
	mc.publishStats(mc.Stats())
	return mc
}

// Signup регистрирует пользователя и при валидном токене начисляет очки пригласившему.
// Повторная регистрация ничего не меняет. При ошибке сохранения изменения откатываются.
func (mc *Machine) Signup(ctx context.Context, userID, token string) (SignupResult, error) {
	result, stats, err := mc.signupLocked(ctx, userID, token)
	if err != nil {
		mc.metrics.RecordSignup("failed")
		return result, err
	}

	if !result.Created {
		mc.metrics.RecordSignup("replay")
		return result, nil
	}

	mc.metrics.RecordSignup("created")
	mc.publishStats(stats)

	d := result.Decision
	if !d.Awarded() {
		if d.Reason != referral.ReasonNoToken {
			mc.metrics.RecordReferralSkipped(string(d.Reason))
		}
		mc.logger.Info("зарегистрирован новый пользователь",
			zap.String("user_id", userID),
			zap.String("reason", string(d.Reason)))
		return result, nil
	}

	mc.metrics.RecordReferralAward(d.Reward)
	mc.logger.Info("начислены очки за приглашение",
		zap.String("user_id", userID),
		zap.String("referrer_id", d.Referrer),
		zap.Int64("reward", d.Reward))

	// Уведомляем вне мьютекса, ошибка доставки не отменяет начисление
	result.Notified = mc.notifyReferrer(ctx, d)

	return result, nil
}

func (mc *Machine) signupLocked(ctx context.Context, userID, token string) (SignupResult, Stats, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	d := mc.engine.Decide(mc.ledger, userID, token)
	result := SignupResult{Decision: d}
	if !d.Create {
		return result, Stats{}, nil
	}

	mc.engine.Apply(mc.ledger, d)

	if err := mc.save(ctx); err != nil {
		mc.engine.Revert(mc.ledger, d)
		mc.logger.Error("ошибка сохранения леджера, регистрация отменена",
			zap.String("user_id", userID),
			zap.Error(err))
		return result, Stats{}, fmt.Errorf("ошибка сохранения регистрации %s: %w", userID, err)
	}

	result.Created = true
	return result, statsOf(mc.ledger), nil
}

func (mc *Machine) save(ctx context.Context) error {
	start := time.Now()
	err := mc.store.Save(ctx, mc.ledger)
	mc.metrics.ObserveLedgerSave(time.Since(start), err)
	return err
}

func (mc *Machine) notifyReferrer(ctx context.Context, d referral.Decision) bool {
	if mc.notifier == nil {
		return false
	}

	if err := mc.notifier.Notify(ctx, d.Referrer, fmt.Sprintf(rewardNotice, d.Reward)); err != nil {
		mc.metrics.RecordNotification(false)
		mc.logger.Warn("не удалось уведомить пригласившего",
			zap.String("referrer_id", d.Referrer),
			zap.String("user_id", d.UserID),
			zap.Error(err))
		return false
	}

	mc.metrics.RecordNotification(true)
	return true
}

// Verify проверяет подписку. Мьютекс не удерживается, неудачу можно повторять сколько угодно.
func (mc *Machine) Verify(ctx context.Context, userID string) VerifyResult {
	detail := mc.gate.Check(ctx, userID)

	res := VerifyResult{
		State:   mc.State(userID),
		Missing: detail.Missing(),
		Detail:  detail,
	}
	if detail.Admitted {
		res.State = StateAdmitted
	}
	return res
}

// State возвращает сохраненное состояние. ADMITTED не хранится и выводится только через Verify.
func (mc *Machine) State(userID string) State {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.ledger.Has(userID) {
		return StateUnverified
	}
	return StateNew
}

// Points возвращает баланс пользователя, 0 для неизвестного
func (mc *Machine) Points(userID string) int64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if rec, ok := mc.ledger.Get(userID); ok {
		return rec.Points
	}
	return 0
}

// Invitees возвращает отсортированный список приглашенных
func (mc *Machine) Invitees(userID string) []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if rec, ok := mc.ledger.Get(userID); ok {
		return rec.Invitees.Sorted()
	}
	return nil
}

// InviteToken токен приглашения совпадает с идентификатором пользователя
func (mc *Machine) InviteToken(userID string) string {
	return userID
}

// Stats возвращает сводку по леджеру
func (mc *Machine) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return statsOf(mc.ledger)
}

// Snapshot возвращает глубокую копию леджера
func (mc *Machine) Snapshot() *models.Ledger {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.ledger.Clone()
}

// PublishStats обновляет gauge метрики леджера
func (mc *Machine) PublishStats() {
	mc.publishStats(mc.Stats())
}

func (mc *Machine) publishStats(s Stats) {
	mc.metrics.SetLedgerStats(s.Users, s.Points, s.Referrals)
}

func statsOf(ledger *models.Ledger) Stats {
	s := Stats{Users: int64(ledger.Len())}
	for _, rec := range ledger.Users {
		s.Points += rec.Points
		s.Referrals += int64(len(rec.Invitees))
	}
	return s
}
