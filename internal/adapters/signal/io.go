package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/app"
	"github.com/mkrav/confa/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, room *app.Room, user *core.ActiveUser, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(user.UserID)).Msg("readPump closing")
		room.Disconnect(user.UserID)
		ctl.unbind(user.UserID)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("user", string(user.UserID)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, room, user, c, data)
		}
	}
}

func (ctl *Controller) handleSignal(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "create-transport":
		ctl.handleCreateTransport(ctx, room, user, c, data)
	case "connect-transport":
		ctl.handleConnectTransport(ctx, room, user, data)
	case "ready":
		ctl.handleReady(ctx, room, user, data)
	case "new-producer":
		ctl.handleNewProducer(ctx, room, user, c, data)
	case app.EvtPauseConsumer:
		ctl.handlePauseConsumer(ctx, room, user, c, data)
	case app.EvtResumeConsumer:
		ctl.handleResumeConsumer(ctx, room, user, c, data)
	case app.EvtPauseProducer:
		ctl.handlePauseProducer(ctx, room, user, c, data)
	case app.EvtResumeProducer:
		ctl.handleResumeProducer(ctx, room, user, c, data)
	case app.EvtCloseProducer:
		ctl.handleCloseProducer(ctx, room, user, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
