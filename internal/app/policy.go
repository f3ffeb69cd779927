package app

import "github.com/mkrav/confa/internal/domain"

// BackpressureAction is what a room does with a participant whose signal
// channel cannot keep up with broadcasts.
type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides the backpressure action per affected member.
type Policy interface {
	OnBackPressure(roomID domain.RoomID, userID domain.UserID) BackpressureAction
}

// SimplePolicy kicks members that fall behind. The signaling channel is low
// bandwidth; a full send buffer means the client is effectively gone.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, domain.UserID) BackpressureAction {
	return KickMember
}
