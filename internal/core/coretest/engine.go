// Package coretest provides an in-memory media engine with synchronous
// event delivery. Tests drive the same interfaces the native engine
// implements, so room state machines can be exercised without a worker
// process.
package coretest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mkrav/confa/internal/core"
	"github.com/mkrav/confa/internal/domain"
)

var defaultCaps = json.RawMessage(`{"codecs":["audio/opus","video/VP8"]}`)

// Engine hands out fake workers and sequential ids. One Engine per test.
type Engine struct {
	mu  sync.Mutex
	seq int
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) nextID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

// Workers returns n fake workers backed by this engine.
func (e *Engine) Workers(n int) []core.Worker {
	out := make([]core.Worker, n)
	for i := range out {
		out[i] = &Worker{eng: e}
	}
	return out
}

type Worker struct {
	eng *Engine

	// RouterErr makes CreateRouter fail, for rollback tests.
	RouterErr error
}

func (w *Worker) CreateRouter(ctx context.Context, codec domain.VideoCodec) (core.Router, error) {
	if w.RouterErr != nil {
		return nil, w.RouterErr
	}
	return &Router{
		eng:   w.eng,
		id:    w.eng.nextID("router"),
		known: make(map[string]*Producer),
	}, nil
}

func (w *Worker) Close() {}

type Router struct {
	eng *Engine
	id  string

	// PipeErr makes PipeProducer fail, for rollback tests.
	PipeErr error
	// RefuseConsume makes CanConsume answer no regardless of state.
	RefuseConsume bool

	mu     sync.Mutex
	known  map[string]*Producer
	closed bool
}

func (r *Router) ID() string                       { return r.id }
func (r *Router) RtpCapabilities() json.RawMessage { return defaultCaps }

func (r *Router) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	if r.RefuseConsume || len(rtpCapabilities) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[producerID]
	return ok
}

func (r *Router) CreateWebRtcTransport(ctx context.Context) (core.Transport, error) {
	t := &Transport{
		eng:    r.eng,
		router: r,
		id:     r.eng.nextID("transport"),
	}
	return t, nil
}

func (r *Router) PipeProducer(ctx context.Context, producerID string, target core.Router) error {
	if r.PipeErr != nil {
		return r.PipeErr
	}
	r.mu.Lock()
	p, ok := r.known[producerID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipe: unknown producer %s", producerID)
	}
	tr := target.(*Router)
	tr.mu.Lock()
	tr.known[producerID] = p
	tr.mu.Unlock()
	p.mu.Lock()
	p.routers = append(p.routers, tr)
	p.mu.Unlock()
	return nil
}

func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// KnownProducers lists producer ids reachable from this router, native and
// piped alike.
func (r *Router) KnownProducers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.known))
	for id := range r.known {
		out = append(out, id)
	}
	return out
}

func (r *Router) register(p *Producer) {
	r.mu.Lock()
	r.known[p.id] = p
	r.mu.Unlock()
	p.mu.Lock()
	p.routers = append(p.routers, r)
	p.mu.Unlock()
}

func (r *Router) unregister(id string) {
	r.mu.Lock()
	delete(r.known, id)
	r.mu.Unlock()
}
