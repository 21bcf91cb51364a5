package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/internal/profile"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// fakeSessionDriver keeps session rows in memory, behaving like the
// real drivers: upsert stamps timestamps, lookup filters by id.
type fakeSessionDriver struct {
	store.Driver
	mu   sync.Mutex
	rows map[string]*store.ConversationSession
}

func (d *fakeSessionDriver) UpsertConversationSession(_ context.Context, up *store.UpsertConversationSession) (*store.ConversationSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rows == nil {
		d.rows = make(map[string]*store.ConversationSession)
	}
	now := time.Now().Unix()
	created := now
	if prev, ok := d.rows[up.ID]; ok {
		created = prev.CreatedTs
	}
	row := &store.ConversationSession{
		ID:        up.ID,
		State:     up.State,
		Slots:     up.Slots,
		Turn:      up.Turn,
		CreatedTs: created,
		UpdatedTs: now,
	}
	d.rows[up.ID] = row
	return row, nil
}

func (d *fakeSessionDriver) ListConversationSessions(_ context.Context, find *store.FindConversationSession) ([]*store.ConversationSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if find != nil && find.ID != nil {
		if row, ok := d.rows[*find.ID]; ok {
			return []*store.ConversationSession{row}, nil
		}
		return nil, nil
	}
	out := make([]*store.ConversationSession, 0, len(d.rows))
	for _, row := range d.rows {
		out = append(out, row)
	}
	return out, nil
}

func (d *fakeSessionDriver) row(id string) *store.ConversationSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows[id]
}

func newTestManager(t *testing.T, driver store.Driver) *Manager {
	t.Helper()
	var st *store.Store
	if driver != nil {
		st = store.New(driver, &profile.Profile{})
	}
	m := NewManager(st, nil, ManagerOptions{CleanupInterval: time.Hour})
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerCreateAndGet(t *testing.T) {
	driver := &fakeSessionDriver{}
	m := newTestManager(t, driver)

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, StateIdle, sess.State())
	assert.Equal(t, 1, m.Count())

	got, err := m.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	row := driver.row(sess.ID)
	require.NotNil(t, row, "creation persists an initial snapshot")
	assert.Equal(t, string(StateIdle), row.State)
}

func TestManagerMissingSession(t *testing.T) {
	m := newTestManager(t, &fakeSessionDriver{})
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	memOnly := newTestManager(t, nil)
	_, err = memOnly.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerRestoresFromTheStore(t *testing.T) {
	driver := &fakeSessionDriver{}
	slots := Slots{
		Story:     &travel.Story{Destination: "taipei", StartDate: "2026-04-10", DayCount: 2},
		Itinerary: &travel.Itinerary{Version: 3, Days: []travel.DayPlan{{Day: 0, Date: "2026-04-10"}}},
	}
	raw, err := json.Marshal(slots)
	require.NoError(t, err)
	_, err = driver.UpsertConversationSession(context.Background(), &store.UpsertConversationSession{
		ID:    "restored-1",
		State: string(StateReady),
		Slots: string(raw),
		Turn:  4,
	})
	require.NoError(t, err)

	m := newTestManager(t, driver)
	sess, err := m.Get(context.Background(), "restored-1")
	require.NoError(t, err)

	snap := sess.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, int32(4), snap.Turn)
	require.NotNil(t, snap.Slots.Itinerary)
	assert.Equal(t, 3, snap.Slots.Itinerary.Version)
	assert.Equal(t, "taipei", snap.Slots.Story.Destination)
	assert.Equal(t, 1, m.Count(), "the restored session joins the live map")
}

func TestManagerRestoreLandsOnARestingState(t *testing.T) {
	cases := []struct {
		name  string
		state State
		slots Slots
		want  State
	}{
		{"mid-plan without results", StatePlan, Slots{}, StateIdle},
		{"mid-present with a plan", StatePresent, Slots{Itinerary: &travel.Itinerary{}}, StateReady},
		{"mid-turn with options", StateRetrieve, Slots{Options: []*travel.Itinerary{{}}}, StatePendingDecision},
		{"resting state kept", StatePendingDecision, Slots{}, StatePendingDecision},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			driver := &fakeSessionDriver{}
			raw, err := json.Marshal(tc.slots)
			require.NoError(t, err)
			_, err = driver.UpsertConversationSession(context.Background(), &store.UpsertConversationSession{
				ID: "s", State: string(tc.state), Slots: string(raw),
			})
			require.NoError(t, err)

			m := newTestManager(t, driver)
			sess, err := m.Get(context.Background(), "s")
			require.NoError(t, err)
			assert.Equal(t, tc.want, sess.State())
		})
	}
}

func TestManagerResetClearsSlots(t *testing.T) {
	driver := &fakeSessionDriver{}
	m := newTestManager(t, driver)

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	sess.mu.Lock()
	sess.state = StateReady
	sess.turn = 5
	sess.slots.Itinerary = &travel.Itinerary{Version: 2}
	sess.mu.Unlock()

	require.NoError(t, m.Reset(context.Background(), sess.ID))

	snap := sess.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, int32(0), snap.Turn)
	assert.Nil(t, snap.Slots.Itinerary)

	row := driver.row(sess.ID)
	assert.Equal(t, string(StateIdle), row.State)
}

func TestManagerEvictsIdleButKeepsTheSnapshot(t *testing.T) {
	driver := &fakeSessionDriver{}
	m := newTestManager(t, driver)

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	sess.mu.Lock()
	sess.state = StateReady
	sess.slots.Itinerary = &travel.Itinerary{Version: 1}
	sess.lastActive = time.Now().Add(-time.Hour)
	m.persistLocked(context.Background(), sess)
	sess.mu.Unlock()

	m.evictIdle()
	assert.Equal(t, 0, m.Count())

	restored, err := m.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.NotSame(t, sess, restored)
	assert.Equal(t, StateReady, restored.State())
	require.NotNil(t, restored.Snapshot().Slots.Itinerary)
}
