package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mkrav/confa/internal/core"
)

type localProducer struct {
	id        string
	kind      core.MediaKind
	relay     *relay
	transport *localTransport
	paused    atomic.Bool
	closed    atomic.Bool

	mu               sync.Mutex
	onTransportClose func()
}

func (p *localProducer) ID() string           { return p.id }
func (p *localProducer) Kind() core.MediaKind { return p.kind }
func (p *localProducer) Paused() bool         { return p.paused.Load() }

func (p *localProducer) Pause(ctx context.Context) error {
	p.paused.Store(true)
	p.relay.setPaused(true)
	return nil
}

func (p *localProducer) Resume(ctx context.Context) error {
	p.paused.Store(false)
	p.relay.setPaused(false)
	return nil
}

func (p *localProducer) OnTransportClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTransportClose = fn
}

func (p *localProducer) fireTransportClose() {
	if p.closed.Swap(true) {
		return
	}
	p.mu.Lock()
	fn := p.onTransportClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *localProducer) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.relay.close()
	p.transport.dropProducer(p.id)
}
