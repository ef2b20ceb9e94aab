// Package app holds the relay's room bookkeeping: which connection is in which
// room, room capacity, forwarding and the slow-consumer policy.
package app

import (
	"context"
	"fmt"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *Registry
	Rooms    *RoomManager
	Policy   Policy
}

func NewOrchestrator(capacity int, policy Policy) *Orchestrator {
	return &Orchestrator{
		Registry: NewRegistry(),
		Rooms:    NewRoomManager(capacity),
		Policy:   policy,
	}
}

func (o *Orchestrator) Connect(sid core.SessionID, member *domain.Member, conn core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Bind(sid, member, conn, cancel)
}

// Join places sid in room, leaving any previous room first. A full room
// leaves the caller outside every room and returns ErrRoomFull.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID) error {
	conn, member, ok := o.Registry.Get(sid)
	if !ok {
		return fmt.Errorf("join %s: %w", roomID, domain.ErrNotConnected)
	}
	if current, ok := o.Registry.RoomOf(sid); ok {
		if current == roomID {
			return nil
		}
		o.Leave(sid)
		log.Info().Str("module", "app").Str("sid", string(sid)).Str("from_room", current.String()).Msg("left previous room")
	}

	room := o.Rooms.GetOrCreate(roomID)
	if err := room.Add(sid, conn, member); err != nil {
		o.Rooms.RemoveIfEmpty(roomID)
		return err
	}
	o.Registry.UpdateRoom(sid, roomID)
	log.Info().Str("module", "app").Str("sid", string(sid)).Str("room", roomID.String()).
		Int("members", room.MemberCount()).Msg("added to room")
	return nil
}

// Forward delivers data to every other member of the sender's room and
// applies the policy to members that could not take it.
func (o *Orchestrator) Forward(sid core.SessionID, data core.Frame) (BroadcastResult, error) {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return BroadcastResult{}, domain.ErrNoRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return BroadcastResult{}, domain.ErrNoRoom
	}

	res := room.Broadcast(sid, data)
	if o.Policy == nil {
		return res, nil
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case KickMember:
			log.Warn().Str("module", "app").Str("sid", string(slow)).Str("room", roomID.String()).Msg("kicking slow consumer")
			o.KickBySID(slow)
		case MarkSlow, DropFrame, NoAction:
		}
	}
	return res, nil
}

// Leave removes sid from its room; the connection stays open.
func (o *Orchestrator) Leave(sid core.SessionID) {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.Get(roomID); ok {
		if room.Remove(sid) {
			o.Rooms.RemoveIfEmpty(roomID)
		}
	}
	o.Registry.RemoveRoom(sid)
}

// KickBySID removes sid from its room and closes its connection.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Cancel(sid)
}

// Disconnect forgets sid entirely.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(id)
}
