// Package tracing provides a small in-process span tracer used by the LLM
// Gateway to record per-call provider/model/operation/token attributes.
// Adapted from the gateway's hand-rolled OpenTelemetry-shaped tracer: a
// full OTel SDK is unnecessary weight for a core that only ever exports
// spans to the log.
package tracing

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TraceID is a 128-bit trace identifier.
type TraceID [16]byte

func (t TraceID) String() string { return hex.EncodeToString(t[:]) }

// SpanID is a 64-bit span identifier.
type SpanID [8]byte

func (s SpanID) String() string { return hex.EncodeToString(s[:]) }

func newTraceID() TraceID {
	var id TraceID
	_, _ = rand.Read(id[:])
	return id
}

func newSpanID() SpanID {
	var id SpanID
	_, _ = rand.Read(id[:])
	return id
}

// Span represents a single traced operation (one LLM Gateway call).
type Span struct {
	mu         sync.Mutex
	Name       string
	TraceID    TraceID
	SpanID     SpanID
	StartTime  time.Time
	EndTime    time.Time
	Attributes map[string]string
	StatusCode string // "OK", "ERROR", "UNSET"
	StatusMsg  string
	finished   bool
}

// SetAttribute adds a key-value attribute to the span.
func (s *Span) SetAttribute(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attributes[key] = value
}

// SetStatus sets the span's status.
func (s *Span) SetStatus(code, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusCode = code
	s.StatusMsg = msg
}

// End marks the span finished and returns its duration.
func (s *Span) End() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.EndTime = time.Now().UTC()
		s.finished = true
	}
	return s.EndTime.Sub(s.StartTime)
}

// Tracer creates spans and logs them on completion.
type Tracer struct {
	logger zerolog.Logger
}

// NewTracer creates a tracer that logs completed spans via logger.
func NewTracer(logger zerolog.Logger) *Tracer {
	return &Tracer{logger: logger.With().Str("component", "tracer").Logger()}
}

// StartSpan begins a new root span for a single operation.
func (t *Tracer) StartSpan(name string) *Span {
	return &Span{
		Name:       name,
		TraceID:    newTraceID(),
		SpanID:     newSpanID(),
		StartTime:  time.Now().UTC(),
		Attributes: make(map[string]string),
		StatusCode: "UNSET",
	}
}

// EndSpan finishes a span and emits it as a structured log line.
func (t *Tracer) EndSpan(span *Span) {
	dur := span.End()

	span.mu.Lock()
	evt := t.logger.Debug()
	if span.StatusCode == "ERROR" {
		evt = t.logger.Warn()
	}
	evt = evt.Str("span", span.Name).
		Str("trace_id", span.TraceID.String()).
		Str("span_id", span.SpanID.String()).
		Str("status", span.StatusCode).
		Dur("duration", dur)
	for k, v := range span.Attributes {
		evt = evt.Str(k, v)
	}
	msg := span.StatusMsg
	span.mu.Unlock()

	if msg == "" {
		msg = "span completed"
	}
	evt.Msg(msg)
}
