package tiered

import (
	"sync"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/catalog"
)

// Call status values recorded on every attempt a Caller makes within a
// tier, mirroring the original's call_with_fallback audit trail.
const (
	CallStatusSuccess  = "success"
	CallStatusFallback = "fallback"
	CallStatusFailed   = "failed"
)

// ModelCallLog records one attempt at calling a model, whatever the
// outcome, so operators can audit which models a tier actually fell
// back across and how often.
type ModelCallLog struct {
	Tier     catalog.Tier
	Provider catalog.Provider
	Model    string
	Alias    string
	Status   string // one of the CallStatus constants above
	Err      error
}

// CallLogSink receives a ModelCallLog for every attempt Call, Embed, or
// CallStream makes.
type CallLogSink interface {
	RecordCall(ModelCallLog)
}

// InMemoryCallLogSink is a CallLogSink that keeps every logged call in
// memory, for tests and lightweight ops inspection.
type InMemoryCallLogSink struct {
	mu   sync.Mutex
	logs []ModelCallLog
}

// NewInMemoryCallLogSink returns an empty sink.
func NewInMemoryCallLogSink() *InMemoryCallLogSink {
	return &InMemoryCallLogSink{}
}

func (s *InMemoryCallLogSink) RecordCall(log ModelCallLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
}

// Logs returns every call logged so far, in call order.
func (s *InMemoryCallLogSink) Logs() []ModelCallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModelCallLog, len(s.logs))
	copy(out, s.logs)
	return out
}
