package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"referral-gate/internal/membership"
	"referral-gate/internal/metrics"
	"referral-gate/internal/referral"
	"referral-gate/internal/store"
	"referral-gate/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore хранит сериализованный леджер в памяти
type memStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	failErr error
}

func (s *memStore) Load(_ context.Context) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return models.NewLedger(), nil
	}
	return store.DecodeLedger(s.data)
}

func (s *memStore) Save(_ context.Context, ledger *models.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	data, err := store.EncodeLedger(ledger)
	if err != nil {
		return err
	}
	s.data = data
	s.saves++
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) persisted(t *testing.T) *models.Ledger {
	t.Helper()
	l, err := s.Load(context.Background())
	require.NoError(t, err)
	return l
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, userID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if n.sent == nil {
		n.sent = make(map[string][]string)
	}
	n.sent[userID] = append(n.sent[userID], text)
	return nil
}

func (n *fakeNotifier) count(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[userID])
}

// tableOracle отвечает статусами из таблицы channel -> status
type tableOracle map[string]membership.Status

func (o tableOracle) MembershipStatus(_ context.Context, channel, _ string) (membership.Status, error) {
	status, ok := o[channel]
	if !ok {
		return membership.StatusUnknown, errors.New("chat not found")
	}
	return status, nil
}

func newMachine(t *testing.T, st *memStore, oracle membership.Oracle, n Notifier) *Machine {
	t.Helper()
	m := metrics.New(zap.NewNop())
	gate := membership.NewGate(oracle, []string{"@c1", "@c2"}, time.Second, m, zap.NewNop())
	mc, err := New(context.Background(), st, referral.NewEngine(referral.DefaultReward), gate, n, m, zap.NewNop())
	require.NoError(t, err)
	return mc
}

func TestSignupWithoutToken(t *testing.T) {
	st := &memStore{}
	mc := newMachine(t, st, tableOracle{}, &fakeNotifier{})

	assert.Equal(t, StateNew, mc.State("A"))

	res, err := mc.Signup(context.Background(), "A", "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Decision.Awarded())

	assert.Equal(t, StateUnverified, mc.State("A"))
	assert.Equal(t, int64(0), mc.Points("A"))
	assert.Empty(t, mc.Invitees("A"))
	assert.True(t, st.persisted(t).Has("A"))
}

func TestSignupAwardsReferrer(t *testing.T) {
	st := &memStore{}
	n := &fakeNotifier{}
	mc := newMachine(t, st, tableOracle{}, n)
	ctx := context.Background()

	_, err := mc.Signup(ctx, "A", "")
	require.NoError(t, err)

	res, err := mc.Signup(ctx, "B", "A")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Notified)
	assert.Equal(t, "A", res.Decision.Referrer)

	assert.Equal(t, int64(10), mc.Points("A"))
	assert.Equal(t, []string{"B"}, mc.Invitees("A"))
	assert.Equal(t, int64(0), mc.Points("B"))
	assert.Equal(t, 1, n.count("A"))

	persisted := st.persisted(t)
	assert.Equal(t, int64(10), persisted.Users["A"].Points)
	assert.True(t, persisted.Users["A"].Invitees.Has("B"))

	assert.Equal(t, Stats{Users: 2, Points: 10, Referrals: 1}, mc.Stats())
}

func TestSignupReplayIsIdempotent(t *testing.T) {
	st := &memStore{}
	n := &fakeNotifier{}
	mc := newMachine(t, st, tableOracle{}, n)
	ctx := context.Background()

	_, err := mc.Signup(ctx, "A", "")
	require.NoError(t, err)
	_, err = mc.Signup(ctx, "B", "A")
	require.NoError(t, err)
	snapshot := mc.Snapshot()
	saves := st.saves

	for i := 0; i < 3; i++ {
		res, err := mc.Signup(ctx, "B", "A")
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, referral.ReasonReplay, res.Decision.Reason)
	}

	assert.Equal(t, snapshot, mc.Snapshot())
	assert.Equal(t, saves, st.saves, "повторная регистрация не сохраняет леджер")
	assert.Equal(t, 1, n.count("A"))
}

func TestSignupSelfReferral(t *testing.T) {
	st := &memStore{}
	n := &fakeNotifier{}
	mc := newMachine(t, st, tableOracle{}, n)

	res, err := mc.Signup(context.Background(), "A", "A")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, referral.ReasonSelfReferral, res.Decision.Reason)
	assert.Equal(t, int64(0), mc.Points("A"))
	assert.Empty(t, mc.Invitees("A"))
	assert.Equal(t, 0, n.count("A"))
}

func TestVerifyOneOfTwoChannelsDenied(t *testing.T) {
	oracle := tableOracle{"@c1": membership.StatusMember, "@c2": membership.StatusLeft}
	mc := newMachine(t, &memStore{}, oracle, &fakeNotifier{})
	ctx := context.Background()

	_, err := mc.Signup(ctx, "A", "")
	require.NoError(t, err)

	res := mc.Verify(ctx, "A")
	assert.False(t, res.Admitted())
	assert.Equal(t, StateUnverified, res.State)
	assert.Equal(t, []string{"@c2"}, res.Missing)
}

func TestVerifyAdmittedIsNotPersisted(t *testing.T) {
	oracle := tableOracle{"@c1": membership.StatusMember, "@c2": membership.StatusCreator}
	mc := newMachine(t, &memStore{}, oracle, &fakeNotifier{})
	ctx := context.Background()

	_, err := mc.Signup(ctx, "A", "")
	require.NoError(t, err)

	res := mc.Verify(ctx, "A")
	assert.True(t, res.Admitted())
	assert.Equal(t, StateUnverified, mc.State("A"))
}

func TestVerifyOracleFailureFailsClosed(t *testing.T) {
	mc := newMachine(t, &memStore{}, tableOracle{"@c1": membership.StatusMember}, &fakeNotifier{})

	res := mc.Verify(context.Background(), "A")
	assert.False(t, res.Admitted())
	assert.Equal(t, StateNew, res.State)
}

func TestSignupSaveFailureRollsBack(t *testing.T) {
	st := &memStore{}
	n := &fakeNotifier{}
	mc := newMachine(t, st, tableOracle{}, n)
	ctx := context.Background()

	_, err := mc.Signup(ctx, "A", "")
	require.NoError(t, err)
	before := mc.Snapshot()

	st.failErr = errors.New("disk full")
	_, err = mc.Signup(ctx, "B", "A")
	require.Error(t, err)

	assert.Equal(t, before, mc.Snapshot())
	assert.Equal(t, StateNew, mc.State("B"))
	assert.Equal(t, 0, n.count("A"))

	// После восстановления хранилища регистрация проходит заново
	st.failErr = nil
	res, err := mc.Signup(ctx, "B", "A")
	require.NoError(t, err)
	assert.True(t, res.Decision.Awarded())
	assert.Equal(t, int64(10), mc.Points("A"))
}

func TestSignupNotifyFailureKeepsAward(t *testing.T) {
	st := &memStore{}
	mc := newMachine(t, st, tableOracle{}, &fakeNotifier{err: errors.New("bot was blocked by the user")})
	ctx := context.Background()

	_, err := mc.Signup(ctx, "A", "")
	require.NoError(t, err)

	res, err := mc.Signup(ctx, "B", "A")
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Equal(t, int64(10), mc.Points("A"))
	assert.Equal(t, int64(10), st.persisted(t).Users["A"].Points)
}

func TestConcurrentSignupsSameToken(t *testing.T) {
	st := &memStore{}
	n := &fakeNotifier{}
	mc := newMachine(t, st, tableOracle{}, n)
	ctx := context.Background()

	_, err := mc.Signup(ctx, "A", "")
	require.NoError(t, err)

	const invitees = 20
	var wg sync.WaitGroup
	for i := 0; i < invitees; i++ {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := mc.Signup(ctx, id, "A")
				assert.NoError(t, err)
			}(fmt.Sprintf("u%d", i))
		}
	}
	wg.Wait()

	assert.Equal(t, int64(invitees*10), mc.Points("A"))
	assert.Len(t, mc.Invitees("A"), invitees)
	assert.Equal(t, invitees, n.count("A"))
	assert.NoError(t, mc.Snapshot().Validate())
	assert.Equal(t, mc.Snapshot(), st.persisted(t))
}

func TestNewLoadsPersistedLedger(t *testing.T) {
	st := &memStore{data: []byte(`{"A": {"points": 30, "invites": ["B", "C", "D"], "daily": {}}}`)}
	mc := newMachine(t, st, tableOracle{}, &fakeNotifier{})

	assert.Equal(t, int64(30), mc.Points("A"))
	assert.Equal(t, StateUnverified, mc.State("A"))
	assert.Equal(t, int64(0), mc.Points("nobody"))
	assert.Equal(t, "A", mc.InviteToken("A"))
}
