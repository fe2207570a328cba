package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// InviteSet множество ID приглашенных пользователей.
// Порядок вставки не сохраняется и не имеет значения; в JSON пишется отсортированным массивом.
type InviteSet map[string]struct{}

// NewInviteSet создает множество из списка ID
func NewInviteSet(ids ...string) InviteSet {
	s := make(InviteSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add добавляет ID, возвращает false если он уже был в множестве
func (s InviteSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove удаляет ID из множества
func (s InviteSet) Remove(id string) {
	delete(s, id)
}

// Has проверяет наличие ID
func (s InviteSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted возвращает элементы множества в лексикографическом порядке
func (s InviteSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON сериализует множество как массив строк
func (s InviteSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON читает массив строк; дубликаты схлопываются
func (s *InviteSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("invites должен быть массивом строк: %w", err)
	}
	*s = NewInviteSet(ids...)
	return nil
}

// UserRecord запись реферального леджера для одного пользователя
type UserRecord struct {
	Points   int64                      `json:"points"`
	Invitees InviteSet                  `json:"invites"`
	Daily    map[string]json.RawMessage `json:"daily"`
}

// NewUserRecord создает пустую запись: 0 очков, нет приглашенных
func NewUserRecord() *UserRecord {
	return &UserRecord{
		Invitees: NewInviteSet(),
		Daily:    make(map[string]json.RawMessage),
	}
}

// Clone возвращает глубокую копию записи
func (r *UserRecord) Clone() *UserRecord {
	c := &UserRecord{
		Points:   r.Points,
		Invitees: make(InviteSet, len(r.Invitees)),
		Daily:    make(map[string]json.RawMessage, len(r.Daily)),
	}
	for id := range r.Invitees {
		c.Invitees[id] = struct{}{}
	}
	for k, v := range r.Daily {
		c.Daily[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// Ledger полный набор записей, ключ - внешний ID пользователя
type Ledger struct {
	Users map[string]*UserRecord
}

// NewLedger создает пустой леджер
func NewLedger() *Ledger {
	return &Ledger{Users: make(map[string]*UserRecord)}
}

// Get возвращает запись пользователя
func (l *Ledger) Get(userID string) (*UserRecord, bool) {
	r, ok := l.Users[userID]
	return r, ok
}

// Has проверяет, есть ли запись пользователя
func (l *Ledger) Has(userID string) bool {
	_, ok := l.Users[userID]
	return ok
}

// Len количество пользователей
func (l *Ledger) Len() int {
	return len(l.Users)
}

// IDs возвращает отсортированный список ID пользователей
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.Users))
	for id := range l.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone возвращает глубокую копию леджера
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{Users: make(map[string]*UserRecord, len(l.Users))}
	for id, r := range l.Users {
		c.Users[id] = r.Clone()
	}
	return c
}

// MarshalJSON пишет леджер как объект {id: запись}
func (l *Ledger) MarshalJSON() ([]byte, error) {
	users := l.Users
	if users == nil {
		users = map[string]*UserRecord{}
	}
	return json.Marshal(users)
}

// ErrInvariant ошибка нарушения инварианта леджера
var ErrInvariant = errors.New("нарушен инвариант леджера")

// Validate проверяет ссылочные инварианты: приглашенный существует,
// никто не приглашает сам себя, приглашенный закреплен не более чем за одним реферером.
func (l *Ledger) Validate() error {
	var errs []error
	owner := make(map[string]string)

	for _, referrerID := range l.IDs() {
		for _, inviteeID := range l.Users[referrerID].Invitees.Sorted() {
			if inviteeID == referrerID {
				errs = append(errs, fmt.Errorf("%w: пользователь %s пригласил сам себя", ErrInvariant, referrerID))
				continue
			}
			if !l.Has(inviteeID) {
				errs = append(errs, fmt.Errorf("%w: приглашенный %s пользователя %s отсутствует", ErrInvariant, inviteeID, referrerID))
			}
			if prev, ok := owner[inviteeID]; ok {
				errs = append(errs, fmt.Errorf("%w: приглашенный %s засчитан и %s, и %s", ErrInvariant, inviteeID, prev, referrerID))
				continue
			}
			owner[inviteeID] = referrerID
		}
	}

	return errors.Join(errs...)
}
