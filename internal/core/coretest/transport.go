package coretest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mkrav/confa/internal/core"
)

type Transport struct {
	eng    *Engine
	router *Router
	id     string

	// Failure injection.
	ConnectErr error
	ProduceErr error
	ConsumeErr error

	mu        sync.Mutex
	connected bool
	closed    bool
	onClose   func()
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() core.TransportInfo {
	return core.TransportInfo{
		ID:   t.id,
		Ice:  json.RawMessage(`{"urls":["stun:stun.test:3478"]}`),
		Dtls: json.RawMessage(`{"role":"server"}`),
	}
}

func (t *Transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(ctx context.Context, kind core.MediaKind, rtpParameters json.RawMessage) (core.Producer, error) {
	if t.ProduceErr != nil {
		return nil, t.ProduceErr
	}
	p := &Producer{
		id:   t.eng.nextID("producer"),
		kind: kind,
	}
	t.router.register(p)
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (core.Consumer, error) {
	if t.ConsumeErr != nil {
		return nil, t.ConsumeErr
	}
	t.router.mu.Lock()
	p, ok := t.router.known[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("consume: unknown producer %s", producerID)
	}
	c := &Consumer{
		id:       t.eng.nextID("consumer"),
		producer: p,
		paused:   true,
	}
	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// Close cascades the way the native engine does: producers fire their
// transport-close and close (fanning producer-closed out to subscribers
// everywhere), local consumers fire transport-close, then the transport's
// own close callback runs.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers := t.producers
	consumers := t.consumers
	fn := t.onClose
	t.mu.Unlock()

	for _, p := range producers {
		p.transportClose()
	}
	for _, c := range consumers {
		c.transportClose()
	}
	if fn != nil {
		fn()
	}
}
