package app

import (
	"sync"

	"github.com/dkeye/voicelink/internal/domain"
)

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

type RoomManager struct {
	capacity int

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

// NewRoomManager creates rooms holding at most capacity members (0 = unbounded).
func NewRoomManager(capacity int) *RoomManager {
	return &RoomManager{capacity: capacity, rooms: make(map[domain.RoomID]*Room)}
}

func (f *RoomManager) GetOrCreate(id domain.RoomID) *Room {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = newRoom(id, f.capacity)
	f.rooms[id] = room
	return room
}

func (f *RoomManager) Get(id domain.RoomID) (*Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManager) List() []RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}

// RemoveIfEmpty deletes the room once its last member has left.
func (f *RoomManager) RemoveIfEmpty(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rooms[id]; ok && r.MemberCount() == 0 {
		delete(f.rooms, id)
	}
}

func (f *RoomManager) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
}
