package coretest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mkrav/confa/internal/core"
)

type Consumer struct {
	id       string
	producer *Producer

	// Failure injection.
	PauseErr  error
	ResumeErr error

	mu               sync.Mutex
	paused           bool
	closed           bool
	onTransportClose func()
	onProducerClose  func()
	onProducerPause  func()
	onProducerResume func()
}

func (c *Consumer) ID() string           { return c.id }
func (c *Consumer) ProducerID() string   { return c.producer.id }
func (c *Consumer) Kind() core.MediaKind { return c.producer.kind }

func (c *Consumer) RtpParameters() json.RawMessage {
	return json.RawMessage(`{"encodings":[{"ssrc":1}]}`)
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause(ctx context.Context) error {
	if c.PauseErr != nil {
		return c.PauseErr
	}
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	if c.ResumeErr != nil {
		return c.ResumeErr
	}
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *Consumer) OnTransportClose(fn func()) {
	c.mu.Lock()
	c.onTransportClose = fn
	c.mu.Unlock()
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	c.onProducerClose = fn
	c.mu.Unlock()
}

func (c *Consumer) OnProducerPause(fn func()) {
	c.mu.Lock()
	c.onProducerPause = fn
	c.mu.Unlock()
}

func (c *Consumer) OnProducerResume(fn func()) {
	c.mu.Lock()
	c.onProducerResume = fn
	c.mu.Unlock()
}

func (c *Consumer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Consumer) transportClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onTransportClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) producerClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onProducerClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Consumer) producerPause() {
	c.mu.Lock()
	fn := c.onProducerPause
	closed := c.closed
	c.mu.Unlock()
	if !closed && fn != nil {
		fn()
	}
}

func (c *Consumer) producerResume() {
	c.mu.Lock()
	fn := c.onProducerResume
	closed := c.closed
	c.mu.Unlock()
	if !closed && fn != nil {
		fn()
	}
}
