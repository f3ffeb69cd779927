package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/mkrav/confa/internal/core"
)

type localConsumer struct {
	id         string
	producerID string
	kind       core.MediaKind
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	relay      *relay
	transport  *localTransport
	rtpParams  json.RawMessage

	paused atomic.Bool
	closed atomic.Bool

	mu               sync.Mutex
	onTransportClose func()
	onProducerClose  func()
	onProducerPause  func()
	onProducerResume func()
}

func (c *localConsumer) ID() string                     { return c.id }
func (c *localConsumer) ProducerID() string             { return c.producerID }
func (c *localConsumer) Kind() core.MediaKind           { return c.kind }
func (c *localConsumer) Paused() bool                   { return c.paused.Load() }
func (c *localConsumer) RtpParameters() json.RawMessage { return c.rtpParams }

func (c *localConsumer) flowing() bool { return !c.paused.Load() && !c.closed.Load() }

func (c *localConsumer) Pause(ctx context.Context) error {
	c.paused.Store(true)
	return nil
}

func (c *localConsumer) Resume(ctx context.Context) error {
	c.paused.Store(false)
	return nil
}

func (c *localConsumer) OnTransportClose(fn func()) { c.set(&c.onTransportClose, fn) }
func (c *localConsumer) OnProducerClose(fn func())  { c.set(&c.onProducerClose, fn) }
func (c *localConsumer) OnProducerPause(fn func())  { c.set(&c.onProducerPause, fn) }
func (c *localConsumer) OnProducerResume(fn func()) { c.set(&c.onProducerResume, fn) }

func (c *localConsumer) set(slot *func(), fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*slot = fn
}

func (c *localConsumer) get(slot *func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *slot
}

func (c *localConsumer) fireTransportClose() {
	if c.closed.Swap(true) {
		return
	}
	if fn := c.get(&c.onTransportClose); fn != nil {
		fn()
	}
}

func (c *localConsumer) fireProducerClose() {
	if c.closed.Swap(true) {
		return
	}
	if fn := c.get(&c.onProducerClose); fn != nil {
		fn()
	}
}

func (c *localConsumer) fireProducerPause() {
	if c.closed.Load() {
		return
	}
	if fn := c.get(&c.onProducerPause); fn != nil {
		fn()
	}
}

func (c *localConsumer) fireProducerResume() {
	if c.closed.Load() {
		return
	}
	if fn := c.get(&c.onProducerResume); fn != nil {
		fn()
	}
}

func (c *localConsumer) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.relay.removeOut(c.id)
	c.transport.dropConsumer(c.id)
}
