package referral

import (
	"strings"

	"referral-gate/pkg/models"
)

// DefaultReward очки за одного приглашенного
const DefaultReward int64 = 10

// Reason причина решения по регистрации
type Reason string

const (
	ReasonAwarded         Reason = "awarded"
	ReasonReplay          Reason = "replay"
	ReasonNoToken         Reason = "no_token"
	ReasonUnknownReferrer Reason = "unknown_referrer"
	ReasonSelfReferral    Reason = "self_referral"
	ReasonAlreadyInvited  Reason = "already_invited"
)

// Decision итог проверки регистрации. Ошибок нет: невалидный токен просто не дает начисления.
type Decision struct {
	UserID   string
	Create   bool   // создать запись нового пользователя
	Referrer string // пусто, если начисления нет
	Reward   int64
	Reason   Reason
}

// Awarded сообщает, получает ли реферер очки
func (d Decision) Awarded() bool {
	return d.Referrer != ""
}

// Engine решает, кому и сколько начислить за регистрацию
type Engine struct {
	reward int64
}

// NewEngine создает движок; reward <= 0 заменяется на DefaultReward
func NewEngine(reward int64) *Engine {
	if reward <= 0 {
		reward = DefaultReward
	}
	return &Engine{reward: reward}
}

// Reward возвращает размер награды
func (e *Engine) Reward() int64 {
	return e.reward
}

// Decide проверяет предусловия по порядку и не меняет леджер
func (e *Engine) Decide(ledger *models.Ledger, newUserID, token string) Decision {
	d := Decision{UserID: newUserID}

	// 1. Только первая регистрация
	if ledger.Has(newUserID) {
		d.Reason = ReasonReplay
		return d
	}
	d.Create = true

	// 2. Токен должен совпадать с существующим пользователем
	token = strings.TrimSpace(token)
	if token == "" {
		d.Reason = ReasonNoToken
		return d
	}

	// 3. Самоприглашение. Проверяется до поиска реферера: новый пользователь еще не в леджере
	if token == newUserID {
		d.Reason = ReasonSelfReferral
		return d
	}

	referrer, ok := ledger.Get(token)
	if !ok {
		d.Reason = ReasonUnknownReferrer
		return d
	}

	// 4. Защита от двойного начисления
	if referrer.Invitees.Has(newUserID) || invitedByAnyone(ledger, newUserID) {
		d.Reason = ReasonAlreadyInvited
		return d
	}

	d.Referrer = token
	d.Reward = e.reward
	d.Reason = ReasonAwarded
	return d
}

// Apply применяет решение к леджеру
func (e *Engine) Apply(ledger *models.Ledger, d Decision) {
	if !d.Create {
		return
	}

	ledger.Users[d.UserID] = models.NewUserRecord()

	if d.Awarded() {
		referrer := ledger.Users[d.Referrer]
		referrer.Invitees.Add(d.UserID)
		referrer.Points += d.Reward
	}
}

// Revert откатывает ранее примененное решение
func (e *Engine) Revert(ledger *models.Ledger, d Decision) {
	if !d.Create {
		return
	}

	if d.Awarded() {
		if referrer, ok := ledger.Users[d.Referrer]; ok {
			referrer.Invitees.Remove(d.UserID)
			referrer.Points -= d.Reward
		}
	}

	delete(ledger.Users, d.UserID)
}

// invitedByAnyone ищет приглашенного во всех записях.
// Пока действует шаг 1, сюда попадают только леджеры с нарушенными инвариантами.
func invitedByAnyone(ledger *models.Ledger, userID string) bool {
	for _, rec := range ledger.Users {
		if rec.Invitees.Has(userID) {
			return true
		}
	}
	return false
}
