package app

import (
	"sync"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
)

type roomMember struct {
	meta *domain.Member
	conn core.SignalConnection
}

// Room is a bounded set of relay connections sharing one signaling channel.
type Room struct {
	ID       domain.RoomID
	capacity int

	mu      sync.RWMutex
	members map[core.SessionID]roomMember
}

type BroadcastResult struct {
	Delivered int
	Dropped   []core.SessionID
}

func newRoom(id domain.RoomID, capacity int) *Room {
	return &Room{ID: id, capacity: capacity, members: make(map[core.SessionID]roomMember)}
}

// Add admits sid unless the room is at capacity. Re-adding a member is a no-op.
func (r *Room) Add(sid core.SessionID, conn core.SignalConnection, meta *domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[sid]; ok {
		return nil
	}
	if r.capacity > 0 && len(r.members) >= r.capacity {
		return domain.ErrRoomFull
	}
	r.members[sid] = roomMember{meta: meta, conn: conn}
	return nil
}

// Remove drops sid and reports whether the room is now empty.
func (r *Room) Remove(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, sid)
	return len(r.members) == 0
}

func (r *Room) Has(sid core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sid]
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) Members() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m.meta)
	}
	return out
}

// Broadcast sends f to every member except from.
func (r *Room) Broadcast(from core.SessionID, f core.Frame) BroadcastResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res BroadcastResult
	for sid, m := range r.members {
		if sid == from {
			continue
		}
		if err := m.conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.Delivered++
	}
	return res
}
