package app

import "github.com/dkeye/voicelink/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room *Room, sid core.SessionID) BackpressureAction
}

// SimplePolicy evicts slow consumers.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*Room, core.SessionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the frame.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(*Room, core.SessionID) BackpressureAction {
	return DropFrame
}
