package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mkrav/confa/internal/app"
	"github.com/mkrav/confa/internal/core/coretest"
	"github.com/mkrav/confa/internal/domain"
	"github.com/mkrav/confa/internal/engine"
	"github.com/mkrav/confa/internal/storage"
)

// newSignalServer wires a controller behind gin with a /prime route that
// seeds the session cookie; query params select the seeded state.
func newSignalServer(t *testing.T) (*gin.Engine, *Controller, domain.RoomID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := coretest.NewEngine()
	gw := engine.NewGateway(eng.Workers(1), engine.NewStreamCounters(nil))
	alloc := engine.NewBitrateAllocator(engine.Capacity{NetworkInMbit: 100, NetworkOutMbit: 100, MaxAudioMbit: 0.0625})
	rooms := app.NewRoomManager(context.Background(), gw, alloc, storage.NewMemoryStore(), nil)
	room, err := rooms.Create(context.Background(), app.CreateRoomParams{Name: "test", VideoCodec: domain.CodecVP8})
	require.NoError(t, err)

	ctl := NewController(rooms)
	r := gin.New()
	r.Use(sessions.Sessions("TestSession", cookie.NewStore([]byte("test-secret"))))
	r.GET("/prime", func(c *gin.Context) {
		sess := LoadSession(c)
		sess.UserID = "u1"
		sess.Joined = c.Query("joined") == "1"
		sess.Authorize(room.ID())
		require.NoError(t, SaveSession(c, sess))
		c.Status(http.StatusNoContent)
	})
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(context.Background(), c) })
	return r, ctl, room.ID()
}

func primeSession(t *testing.T, r *gin.Engine, path string) []*http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	return w.Result().Cookies()
}

func requestSignal(r *gin.Engine, roomID domain.RoomID, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ws?roomId="+string(roomID), nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleSignalUnauthorized(t *testing.T) {
	r, _, roomID := newSignalServer(t)

	w := requestSignal(r, roomID, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code, "no password verification in the session")

	cookies := primeSession(t, r, "/prime")
	w = requestSignal(r, "other-room", cookies)
	require.Equal(t, http.StatusUnauthorized, w.Code, "authorization is per room id")
}

func TestHandleSignalJoinedSessionRejected(t *testing.T) {
	r, ctl, roomID := newSignalServer(t)
	cookies := primeSession(t, r, "/prime?joined=1")

	// The first socket is still live.
	require.True(t, ctl.tryBind("u1"))

	w := requestSignal(r, roomID, cookies)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleSignalStaleJoinedFlagHeals(t *testing.T) {
	r, _, roomID := newSignalServer(t)
	// Joined flag set but no live socket: leftover from an unclean shutdown.
	cookies := primeSession(t, r, "/prime?joined=1")

	w := requestSignal(r, roomID, cookies)
	// The handshake proceeds past the session checks; only the websocket
	// upgrade itself fails on a plain HTTP request.
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSignalRateLimited(t *testing.T) {
	r, _, roomID := newSignalServer(t)
	cookies := primeSession(t, r, "/prime")

	for i := 0; i < 5; i++ {
		w := requestSignal(r, roomID, cookies)
		require.Equal(t, http.StatusBadRequest, w.Code, "attempt %d reaches the upgrade", i+1)
	}
	w := requestSignal(r, roomID, cookies)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}
