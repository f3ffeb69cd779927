package coretest

import (
	"context"
	"sync"

	"github.com/mkrav/confa/internal/core"
)

type Producer struct {
	id   string
	kind core.MediaKind

	// Failure injection.
	PauseErr  error
	ResumeErr error

	mu               sync.Mutex
	paused           bool
	closed           bool
	onTransportClose func()
	consumers        []*Consumer
	routers          []*Router
}

func (p *Producer) ID() string           { return p.id }
func (p *Producer) Kind() core.MediaKind { return p.kind }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause(ctx context.Context) error {
	if p.PauseErr != nil {
		return p.PauseErr
	}
	p.mu.Lock()
	if p.paused || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.paused = true
	consumers := snapshot(p.consumers)
	p.mu.Unlock()

	for _, c := range consumers {
		c.producerPause()
	}
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	if p.ResumeErr != nil {
		return p.ResumeErr
	}
	p.mu.Lock()
	if !p.paused || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.paused = false
	consumers := snapshot(p.consumers)
	p.mu.Unlock()

	for _, c := range consumers {
		c.producerResume()
	}
	return nil
}

func (p *Producer) OnTransportClose(fn func()) {
	p.mu.Lock()
	p.onTransportClose = fn
	p.mu.Unlock()
}

// Close tears the producer down and fires producer-closed on every
// subscribed consumer, the same cascade the native engine delivers.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := snapshot(p.consumers)
	routers := snapshot(p.routers)
	p.mu.Unlock()

	for _, r := range routers {
		r.unregister(p.id)
	}
	for _, c := range consumers {
		c.producerClose()
	}
}

func (p *Producer) transportClose() {
	p.mu.Lock()
	fn := p.onTransportClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
	p.Close()
}

func snapshot[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
