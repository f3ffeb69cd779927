package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mkrav/confa/internal/app"
	"github.com/mkrav/confa/internal/core"
)

// Expected per-request failures (bad ids, capability refusals) are logged
// and the success event is simply never sent; nothing reaches other
// participants. Engine failures degrade only the requesting user.
func logOpErr(err error, user *core.ActiveUser, op string) {
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrCapabilityMismatch) || errors.Is(err, core.ErrUnauthorized) {
		log.Info().Err(err).Str("module", "signal").Str("user", string(user.UserID)).Str("op", op).Msg("request refused")
		return
	}
	log.Error().Err(err).Str("module", "signal").Str("user", string(user.UserID)).Str("room", string(user.RoomID)).Str("op", op).Msg("operation failed")
}

func (ctl *Controller) handleCreateTransport(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	var p struct {
		Type      string `json:"type"`
		Consuming bool   `json:"consuming"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad create-transport payload")
		return
	}

	info, err := room.CreateWebRtcTransport(ctx, user.UserID, p.Consuming)
	if err != nil {
		logOpErr(err, user, "create-transport")
		return
	}
	ctl.sendJSON(c, struct {
		Type string          `json:"type"`
		ID   string          `json:"id"`
		Ice  json.RawMessage `json:"ice"`
		Dtls json.RawMessage `json:"dtls"`
	}{app.EvtTransportCreated, info.ID, info.Ice, info.Dtls})
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, room *app.Room, user *core.ActiveUser, data []byte) {
	var p struct {
		Type string          `json:"type"`
		ID   string          `json:"id"`
		Dtls json.RawMessage `json:"dtls"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad connect-transport payload")
		return
	}
	if err := room.ConnectTransport(ctx, user.UserID, p.ID, p.Dtls); err != nil {
		logOpErr(err, user, "connect-transport")
	}
}

func (ctl *Controller) handleReady(ctx context.Context, room *app.Room, user *core.ActiveUser, data []byte) {
	var p struct {
		Type            string          `json:"type"`
		Name            string          `json:"name"`
		RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad ready payload")
		return
	}
	if err := room.Ready(ctx, user.UserID, p.Name, p.RtpCapabilities); err != nil {
		logOpErr(err, user, "ready")
	}
}

func (ctl *Controller) handleNewProducer(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	var p struct {
		Type          string          `json:"type"`
		TransportID   string          `json:"transportId"`
		Kind          string          `json:"kind"`
		RtpParameters json.RawMessage `json:"rtpParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad new-producer payload")
		return
	}

	id, err := room.CreateProducer(ctx, user.UserID, p.TransportID, core.MediaKind(p.Kind), p.RtpParameters)
	if err != nil {
		logOpErr(err, user, "new-producer")
		return
	}
	ctl.sendJSON(c, app.ProducerEvent{Type: app.EvtNewProducer, ID: id})
}

func (ctl *Controller) handlePauseConsumer(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	id, ok := consumerID(data)
	if !ok {
		return
	}
	changed, err := room.PauseConsumer(ctx, user.UserID, id)
	if err != nil {
		logOpErr(err, user, "pause-consumer")
		return
	}
	if changed {
		ctl.sendJSON(c, app.ConsumerEvent{Type: app.EvtPauseConsumer, ConsumerID: id})
	}
}

func (ctl *Controller) handleResumeConsumer(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	id, ok := consumerID(data)
	if !ok {
		return
	}
	changed, err := room.ResumeConsumer(ctx, user.UserID, id)
	if err != nil {
		logOpErr(err, user, "resume-consumer")
		return
	}
	if changed {
		ctl.sendJSON(c, app.ConsumerEvent{Type: app.EvtResumeConsumer, ConsumerID: id})
	}
}

func (ctl *Controller) handlePauseProducer(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	id, ok := producerID(data)
	if !ok {
		return
	}
	changed, err := room.PauseProducer(ctx, user.UserID, id)
	if err != nil {
		logOpErr(err, user, "pause-producer")
		return
	}
	if changed {
		ctl.sendJSON(c, app.ProducerEvent{Type: app.EvtPauseProducer, ID: id})
	}
}

func (ctl *Controller) handleResumeProducer(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	id, ok := producerID(data)
	if !ok {
		return
	}
	changed, err := room.ResumeProducer(ctx, user.UserID, id)
	if err != nil {
		logOpErr(err, user, "resume-producer")
		return
	}
	if changed {
		ctl.sendJSON(c, app.ProducerEvent{Type: app.EvtResumeProducer, ID: id})
	}
}

func (ctl *Controller) handleCloseProducer(ctx context.Context, room *app.Room, user *core.ActiveUser, c *WsSignalConn, data []byte) {
	id, ok := producerID(data)
	if !ok {
		return
	}
	if err := room.CloseProducer(ctx, user.UserID, id); err != nil {
		logOpErr(err, user, "close-producer")
		return
	}
	ctl.sendJSON(c, app.ProducerEvent{Type: app.EvtCloseProducer, ID: id})
}

func consumerID(data []byte) (string, bool) {
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		log.Warn().Str("module", "signal").Msg("bad consumer payload")
		return "", false
	}
	return p.ConsumerID, true
}

func producerID(data []byte) (string, bool) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		log.Warn().Str("module", "signal").Msg("bad producer payload")
		return "", false
	}
	return p.ID, true
}
