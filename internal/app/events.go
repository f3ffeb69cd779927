package app

import (
	"encoding/json"

	"github.com/mkrav/confa/internal/domain"
)

// Wire event names. Part of the client compatibility surface, never rename.
const (
	EvtTransportCreated = "transport-created"
	EvtNewUser          = "new-user"
	EvtNewProducer      = "new-producer"
	EvtNewConsumer      = "new-consumer"
	EvtPauseConsumer    = "pause-consumer"
	EvtResumeConsumer   = "resume-consumer"
	EvtPauseProducer    = "pause-producer"
	EvtResumeProducer   = "resume-producer"
	EvtCloseProducer    = "close-producer"
	EvtUserDisconnected = "user-disconnected"
	EvtMaxVideoBitrate  = "max-video-bitrate"
)

type NewUserEvent struct {
	Type string        `json:"type"`
	ID   domain.UserID `json:"id"`
	Name string        `json:"name"`
}

// NewConsumerEvent announces a freshly created (paused) consumer to its
// subscriber. Field names are fixed by the client protocol.
type NewConsumerEvent struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"` // producer id
	ConsumerID     string          `json:"consumerId"`
	ProducerUserID domain.UserID   `json:"producerUserId"`
	Name           string          `json:"name"`
	Kind           string          `json:"kind"`
	RtpParameters  json.RawMessage `json:"rtpParameters"`
}

type ConsumerEvent struct {
	Type       string `json:"type"`
	ConsumerID string `json:"consumerId"`
}

type ProducerEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type UserDisconnectedEvent struct {
	Type string        `json:"type"`
	ID   domain.UserID `json:"id"`
}

type MaxVideoBitrateEvent struct {
	Type    string `json:"type"`
	Bitrate int64  `json:"bitrate"` // bits per second
}
