package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func waitForCount(t *testing.T, st *store.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := st.Count()
		require.NoError(t, err)
		if n == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	n, _ := st.Count()
	t.Fatalf("stored %d events, want %d", n, want)
}

func TestFlushOnBatchSize(t *testing.T) {
	st := testStore(t)
	p := NewPersistence(st, 3, time.Hour)
	defer p.Close()

	for i := int64(1); i <= 3; i++ {
		p.OnEnvelope(&event.Envelope{Type: event.TypeSession, SessionID: i})
	}

	waitForCount(t, st, 3)
}

func TestFlushOnInterval(t *testing.T) {
	st := testStore(t)
	p := NewPersistence(st, 1000, 20*time.Millisecond)
	defer p.Close()

	p.OnEnvelope(&event.Envelope{Type: event.TypeHandle, SessionID: 1})

	waitForCount(t, st, 1)
}

func TestCloseFlushesRemainder(t *testing.T) {
	st := testStore(t)
	p := NewPersistence(st, 1000, time.Hour)

	p.OnEnvelope(&event.Envelope{Type: event.TypeSession, SessionID: 1})
	p.OnEnvelope(&event.Envelope{Type: event.TypeSession, SessionID: 2})
	p.Close()

	n, err := st.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSessionLostFlushes(t *testing.T) {
	st := testStore(t)
	p := NewPersistence(st, 1000, time.Hour)
	defer p.Close()

	p.OnEnvelope(&event.Envelope{Type: event.TypeSession, SessionID: 1})
	p.OnSessionLost(errors.New("keepalive exhausted"))

	n, err := st.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRoomsSinkForwardsToTracker(t *testing.T) {
	tracker := event.NewRoomTracker()
	r := NewRooms(tracker)

	env := &event.Envelope{
		Type: event.TypePlugin,
		Plugin: &event.PluginPayload{
			Plugin: event.VideoRoomPlugin,
			VideoRoom: &event.VideoRoomData{
				Event:   "joined",
				Room:    "1234",
				ID:      7,
				Display: "alice",
			},
		},
	}
	r.OnEnvelope(env)

	participants := tracker.Participants("1234")
	require.Len(t, participants, 1)
	assert.Equal(t, int64(7), participants[0].ID)
	assert.Equal(t, "alice", participants[0].Display)
}
