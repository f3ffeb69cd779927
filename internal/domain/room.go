package domain

type (
	RoomName string
	RoomID   string
)

// VideoCodec is chosen once at room creation; the engine pipeline for the
// room is built for it and it never changes afterwards.
type VideoCodec string

const (
	CodecVP8  VideoCodec = "vp8"
	CodecVP9  VideoCodec = "vp9"
	CodecH264 VideoCodec = "h264"
)

func (c VideoCodec) Valid() bool {
	switch c {
	case CodecVP8, CodecVP9, CodecH264:
		return true
	}
	return false
}

// Room holds conference meta only. Live state (participants, routers,
// producers/consumers) lives in the app layer.
type Room struct {
	ID           RoomID
	Name         RoomName
	PasswordHash []byte
	VideoCodec   VideoCodec

	SaveChatPolicy bool
	SymmetricMode  bool
}
