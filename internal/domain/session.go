package domain

// Session is the per-connection auth record the signaling layer reads and
// writes. The HTTP middleware persists it; nobody else mutates these fields.
//
// Invariants:
//   - Joined is true only while exactly one signaling socket is bound to
//     JoinedRoomID for this session; a second socket must be rejected.
//   - AuthorizedRoomIDs lists every room the session has passed password
//     verification for, and joining is allowed only for listed rooms.
type Session struct {
	UserID            UserID   `json:"userId"`
	JoinedRoomID      RoomID   `json:"joinedRoomId"`
	AuthorizedRoomIDs []RoomID `json:"authorizedRoomIds"`
	Joined            bool     `json:"joined"`
}

func (s *Session) Authorized(id RoomID) bool {
	for _, r := range s.AuthorizedRoomIDs {
		if r == id {
			return true
		}
	}
	return false
}

// Authorize records a successful password check. Idempotent.
func (s *Session) Authorize(id RoomID) {
	if s.Authorized(id) {
		return
	}
	s.AuthorizedRoomIDs = append(s.AuthorizedRoomIDs, id)
}
