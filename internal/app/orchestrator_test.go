package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type peer struct {
	sid       core.SessionID
	conn      *fakeConn
	cancelled bool
}

func connect(o *Orchestrator, sid string) *peer {
	p := &peer{sid: core.SessionID(sid), conn: &fakeConn{}}
	o.Connect(p.sid, domain.NewMember(sid, "ct"), p.conn, func() { p.cancelled = true })
	return p
}

func TestJoinRespectsCapacity(t *testing.T) {
	o := NewOrchestrator(2, SimplePolicy{})
	a, b, c := connect(o, "a"), connect(o, "b"), connect(o, "c")

	require.NoError(t, o.Join(a.sid, "room1"))
	require.NoError(t, o.Join(b.sid, "room1"))
	require.ErrorIs(t, o.Join(c.sid, "room1"), domain.ErrRoomFull)

	_, inRoom := o.Registry.RoomOf(c.sid)
	assert.False(t, inRoom)
	room, ok := o.Rooms.Get("room1")
	require.True(t, ok)
	assert.Equal(t, 2, room.MemberCount())

	require.NoError(t, o.Join(a.sid, "room1"), "re-joining the same room is a no-op")
	assert.Equal(t, 2, room.MemberCount())
}

func TestJoinUnknownSession(t *testing.T) {
	o := NewOrchestrator(2, nil)
	require.ErrorIs(t, o.Join("ghost", "room1"), domain.ErrNotConnected)
}

func TestForwardReachesOthersOnly(t *testing.T) {
	o := NewOrchestrator(0, SimplePolicy{})
	a, b, c := connect(o, "a"), connect(o, "b"), connect(o, "c")
	other := connect(o, "other")
	for _, p := range []*peer{a, b, c} {
		require.NoError(t, o.Join(p.sid, "room1"))
	}
	require.NoError(t, o.Join(other.sid, "room2"))

	res, err := o.Forward(a.sid, core.Frame(`{"type":"rtc-text"}`))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Zero(t, a.conn.count())
	assert.Equal(t, 1, b.conn.count())
	assert.Equal(t, 1, c.conn.count())
	assert.Zero(t, other.conn.count())
}

func TestForwardWithoutRoom(t *testing.T) {
	o := NewOrchestrator(2, nil)
	a := connect(o, "a")
	_, err := o.Forward(a.sid, core.Frame("x"))
	require.ErrorIs(t, err, domain.ErrNoRoom)
}

func TestSlowConsumerIsKicked(t *testing.T) {
	o := NewOrchestrator(2, SimplePolicy{})
	a, b := connect(o, "a"), connect(o, "b")
	require.NoError(t, o.Join(a.sid, "room1"))
	require.NoError(t, o.Join(b.sid, "room1"))
	b.conn.full = true

	res, err := o.Forward(a.sid, core.Frame("x"))

	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{b.sid}, res.Dropped)
	assert.True(t, b.cancelled)
	_, inRoom := o.Registry.RoomOf(b.sid)
	assert.False(t, inRoom)
}

func TestTolerantPolicyKeepsMember(t *testing.T) {
	o := NewOrchestrator(2, TolerantPolicy{})
	a, b := connect(o, "a"), connect(o, "b")
	require.NoError(t, o.Join(a.sid, "room1"))
	require.NoError(t, o.Join(b.sid, "room1"))
	b.conn.full = true

	_, err := o.Forward(a.sid, core.Frame("x"))
	require.NoError(t, err)
	assert.False(t, b.cancelled)
}

func TestJoinOtherRoomLeavesPrevious(t *testing.T) {
	o := NewOrchestrator(2, nil)
	a := connect(o, "a")
	require.NoError(t, o.Join(a.sid, "room1"))
	require.NoError(t, o.Join(a.sid, "room2"))

	_, ok := o.Rooms.Get("room1")
	assert.False(t, ok, "empty room is removed")
	roomID, _ := o.Registry.RoomOf(a.sid)
	assert.Equal(t, domain.RoomID("room2"), roomID)
}

func TestDisconnectFreesSeat(t *testing.T) {
	o := NewOrchestrator(2, nil)
	a, b, c := connect(o, "a"), connect(o, "b"), connect(o, "c")
	require.NoError(t, o.Join(a.sid, "room1"))
	require.NoError(t, o.Join(b.sid, "room1"))

	o.Disconnect(a.sid)

	require.NoError(t, o.Join(c.sid, "room1"))
	assert.Equal(t, 2, o.Registry.Count())
}

func TestEvictRoom(t *testing.T) {
	o := NewOrchestrator(2, nil)
	a, b := connect(o, "a"), connect(o, "b")
	require.NoError(t, o.Join(a.sid, "room1"))
	require.NoError(t, o.Join(b.sid, "room1"))

	o.EvictRoom("room1")

	assert.True(t, a.cancelled)
	assert.True(t, b.cancelled)
	assert.Empty(t, o.Rooms.List())
}

