package signal

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/mkrav/confa/internal/domain"
)

// Session keys. Fields are stored individually; the cookie store gob-encodes
// each value.
const (
	sessKeyUserID     = "userId"
	sessKeyJoined     = "joined"
	sessKeyJoinedRoom = "joinedRoomId"
	sessKeyAuthorized = "authorizedRoomIds"
)

// LoadSession reads the typed session record out of the cookie session.
// Missing or mistyped values read as zero.
func LoadSession(c *gin.Context) domain.Session {
	s := sessions.Default(c)
	out := domain.Session{}
	if v, ok := s.Get(sessKeyUserID).(string); ok {
		out.UserID = domain.UserID(v)
	}
	if v, ok := s.Get(sessKeyJoined).(bool); ok {
		out.Joined = v
	}
	if v, ok := s.Get(sessKeyJoinedRoom).(string); ok {
		out.JoinedRoomID = domain.RoomID(v)
	}
	if v, ok := s.Get(sessKeyAuthorized).([]string); ok {
		for _, id := range v {
			out.AuthorizedRoomIDs = append(out.AuthorizedRoomIDs, domain.RoomID(id))
		}
	}
	return out
}

func SaveSession(c *gin.Context, sess domain.Session) error {
	s := sessions.Default(c)
	s.Set(sessKeyUserID, string(sess.UserID))
	s.Set(sessKeyJoined, sess.Joined)
	s.Set(sessKeyJoinedRoom, string(sess.JoinedRoomID))
	authorized := make([]string, 0, len(sess.AuthorizedRoomIDs))
	for _, id := range sess.AuthorizedRoomIDs {
		authorized = append(authorized, string(id))
	}
	s.Set(sessKeyAuthorized, authorized)
	return s.Save()
}
