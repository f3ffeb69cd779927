package core

import (
	"encoding/json"

	"github.com/mkrav/confa/internal/domain"
)

// ProducerHandle pairs an engine producer with room-side bookkeeping.
// Counted tracks whether the producer currently contributes to the
// process-wide stream counters (true only while actively flowing).
type ProducerHandle struct {
	Producer
	Counted bool
}

// ConsumerHandle wraps an engine consumer with the room-side pause state.
//
// ClientPaused records that the owning client asked for the pause,
// independent of the engine-reported state; ProducerPaused mirrors the last
// producer-paused/resumed event. A consumer is resumed only when the engine
// reports it paused, ProducerPaused is false and ClientPaused is false.
type ConsumerHandle struct {
	Consumer
	ProducerUserID domain.UserID
	ClientPaused   bool
	ProducerPaused bool
	Counted        bool
}

// ResumableNow reports the three-way resume guard against the current state.
func (h *ConsumerHandle) ResumableNow() bool {
	return h.Paused() && !h.ProducerPaused && !h.ClientPaused
}

// ActiveUser is one connected participant inside exactly one room, owned
// exclusively by that room. All fields below the signal connection are
// mutated only under the room's serialization point.
type ActiveUser struct {
	UserID   domain.UserID
	SocketID SessionID
	RoomID   domain.RoomID
	Name     string

	Signal SignalConnection

	// Ready flips once the client declared its capabilities; consumers are
	// only fanned out to ready users.
	Ready           bool
	RtpCapabilities json.RawMessage

	// At most one transport per direction.
	SendTransport Transport
	RecvTransport Transport
	// RecvRouter is the router the consuming transport was placed on.
	RecvRouter Router

	Producers map[string]*ProducerHandle
	Consumers map[string]*ConsumerHandle
}

func NewActiveUser(userID domain.UserID, sid SessionID, roomID domain.RoomID, sig SignalConnection) *ActiveUser {
	return &ActiveUser{
		UserID:    userID,
		SocketID:  sid,
		RoomID:    roomID,
		Signal:    sig,
		Producers: make(map[string]*ProducerHandle),
		Consumers: make(map[string]*ConsumerHandle),
	}
}

// OwnTransport resolves a client-supplied transport id against this user's
// transports only. Producing through someone else's transport is impossible
// by construction.
func (u *ActiveUser) OwnTransport(id string) (Transport, bool) {
	if u.SendTransport != nil && u.SendTransport.ID() == id {
		return u.SendTransport, true
	}
	if u.RecvTransport != nil && u.RecvTransport.ID() == id {
		return u.RecvTransport, true
	}
	return nil, false
}
