// Package rtc is the in-process media engine: a pion-backed implementation
// of the core engine surface for single-node deployments, where "workers"
// are just independent routing contexts inside this process.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/domain"
)

type LocalWorker struct {
	id string
}

// NewLocalWorkers allocates n in-process workers. More than one worker only
// spreads consumer fan-out load across routing contexts; there is no
// process isolation here.
func NewLocalWorkers(n int) []core.Worker {
	if n < 1 {
		n = 1
	}
	out := make([]core.Worker, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &LocalWorker{id: fmt.Sprintf("worker-%d", i)})
	}
	return out
}

func (w *LocalWorker) CreateRouter(ctx context.Context, codec domain.VideoCodec) (core.Router, error) {
	audio := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}
	video, err := videoCodecParameters(codec)
	if err != nil {
		return nil, err
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterCodec(audio, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio codec: %w", err)
	}
	if err := me.RegisterCodec(video, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register video codec: %w", err)
	}

	caps, err := json.Marshal(struct {
		Audio webrtc.RTPCodecCapability `json:"audio"`
		Video webrtc.RTPCodecCapability `json:"video"`
	}{audio.RTPCodecCapability, video.RTPCodecCapability})
	if err != nil {
		return nil, err
	}

	return &localRouter{
		id:     uuid.NewString(),
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		audio:  audio.RTPCodecCapability,
		video:  video.RTPCodecCapability,
		caps:   caps,
		relays: make(map[string]*relay),
	}, nil
}

func (w *LocalWorker) Close() {}

func videoCodecParameters(codec domain.VideoCodec) (webrtc.RTPCodecParameters, error) {
	switch codec {
	case domain.CodecVP8:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}, nil
	case domain.CodecVP9:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000},
			PayloadType:        98,
		}, nil
	case domain.CodecH264:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
			PayloadType:        102,
		}, nil
	}
	return webrtc.RTPCodecParameters{}, fmt.Errorf("unsupported video codec %q", codec)
}
