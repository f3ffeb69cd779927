// Package lobby publishes room lifecycle notifications to the general
// lobby channel so clients outside any room can keep their room list fresh.
package lobby

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/app"
	"github.com/mkrav/confa/internal/domain"
)

// Queue is something to write lobby messages to.
type Queue interface {
	Write(msg []byte) error
	Close()
}

// Notifier implements app.LobbyNotifier over a Queue.
type Notifier struct {
	queue Queue
}

func NewNotifier(q Queue) *Notifier {
	return &Notifier{queue: q}
}

type roomMessage struct {
	Event string        `json:"event"`
	Room  *app.RoomInfo `json:"room,omitempty"`
	ID    domain.RoomID `json:"id,omitempty"`
}

func (n *Notifier) RoomCreated(info app.RoomInfo) {
	n.publish(roomMessage{Event: "room-created", Room: &info, ID: info.ID})
}

func (n *Notifier) RoomDeleted(id domain.RoomID) {
	n.publish(roomMessage{Event: "room-deleted", ID: id})
}

func (n *Notifier) publish(msg roomMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "lobby").Msg("marshal lobby message")
		return
	}
	if err := n.queue.Write(b); err != nil {
		log.Error().Err(err).Str("module", "lobby").Str("event", msg.Event).Msg("publish lobby message")
	}
}
