package coretest

import (
	"encoding/json"
	"sync"

	"github.com/mkrav/confa/internal/core"
)

// Signal records every frame a room pushed to one participant.
type Signal struct {
	// SendErr makes TrySend fail, simulating backpressure.
	SendErr error

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func NewSignal() *Signal { return &Signal{} }

func (s *Signal) TrySend(f core.Frame) error {
	if s.SendErr != nil {
		return s.SendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append(core.Frame(nil), f...))
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Signal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Signal) Frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.frames)
}

// EventTypes decodes the type field of every recorded frame, in order.
func (s *Signal) EventTypes() []string {
	var out []string
	for _, f := range s.Frames() {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(f, &env) == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

// LastEvent decodes the most recent frame of the given type into v and
// reports whether one was found.
func (s *Signal) LastEvent(eventType string, v any) bool {
	frames := s.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(frames[i], &env) != nil || env.Type != eventType {
			continue
		}
		return json.Unmarshal(frames[i], v) == nil
	}
	return false
}

// CountEvents returns how many recorded frames carry the given type.
func (s *Signal) CountEvents(eventType string) int {
	n := 0
	for _, t := range s.EventTypes() {
		if t == eventType {
			n++
		}
	}
	return n
}
