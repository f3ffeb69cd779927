package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/app"
	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller binds authenticated websocket connections to rooms and
// translates protocol events into room operations.
type Controller struct {
	Rooms *app.RoomManager

	limiter *JoinRateLimiter

	// active gates one signaling socket per user id; a second tab under the
	// same session is rejected, not merged.
	mu     sync.Mutex
	active map[domain.UserID]core.SessionID
}

func NewController(rooms *app.RoomManager) *Controller {
	return &Controller{
		Rooms:   rooms,
		limiter: NewJoinRateLimiter(5, 10*time.Second),
		active:  make(map[domain.UserID]core.SessionID),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates the connection against the session record and
// joins it to exactly one room. Precondition: the session has passed
// password verification for that room and is not already joined.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Query("roomId"))
	sess := LoadSession(c)

	if roomID == "" || !sess.Authorized(roomID) {
		log.Warn().Str("module", "signal").Str("room", string(roomID)).Msg("unauthorized signal connection")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	room, ok := ctl.Rooms.Get(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	userID := sess.UserID
	if userID == "" {
		userID = domain.UserID(uuid.NewString())
	}
	if !ctl.limiter.Allow(userID) {
		log.Warn().Str("module", "signal").Str("user", string(userID)).Msg("join attempts rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}
	// A session flagged joined keeps a second socket out while the first is
	// live. The flag alone is not trusted: after an unclean shutdown it
	// survives in the cookie with no live socket behind it, and the rebind
	// below overwrites it.
	if sess.Joined && ctl.isBound(userID) {
		log.Warn().Str("module", "signal").Str("user", string(userID)).Msg("session already joined, second socket rejected")
		c.JSON(http.StatusConflict, gin.H{"error": "already joined"})
		return
	}
	if !ctl.tryBind(userID) {
		log.Warn().Str("module", "signal").Str("user", string(userID)).Msg("second socket for joined session rejected")
		c.JSON(http.StatusConflict, gin.H{"error": "already joined"})
		return
	}

	sess.UserID = userID
	sess.Joined = true
	sess.JoinedRoomID = roomID
	if err := SaveSession(c, sess); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("session save")
		ctl.unbind(userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		ctl.unbind(userID)
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	user := core.NewActiveUser(userID, sid, roomID, conn)

	if err := room.Join(user); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(userID)).Msg("join rejected")
		ctl.unbind(userID)
		conn.Close()
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(userID)).Str("room", string(roomID)).Msg("signal connection joined")

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, cancel, room, user, conn)
}

func (ctl *Controller) isBound(userID domain.UserID) bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	_, ok := ctl.active[userID]
	return ok
}

func (ctl *Controller) tryBind(userID domain.UserID) bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if _, ok := ctl.active[userID]; ok {
		return false
	}
	ctl.active[userID] = core.SessionID(uuid.NewString())
	return true
}

func (ctl *Controller) unbind(userID domain.UserID) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	delete(ctl.active, userID)
}
