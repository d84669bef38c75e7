// Package audit defines the fire-and-forget side channels consumed by the
// risk and approval engines: the financial-operation audit trail and the
// security-alert stream. Sink failures must never fail or block the
// operations that emit them, so callers invoke sinks best-effort (usually
// from a goroutine) and ignore the outcome.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Sink consumes financial-operation audit events.
type Sink interface {
	LogFinancialOperation(ctx context.Context, actor, operation, entityName, entityID string, changes, metadata map[string]any)
}

// AlertSink consumes security alerts.
type AlertSink interface {
	Emit(ctx context.Context, eventType, severity, actorID, description string, details map[string]any)
}

// SlogSink writes audit events and alerts to a structured logger.
// It implements both Sink and AlertSink.
type SlogSink struct {
	logger *slog.Logger
}

var (
	_ Sink      = (*SlogSink)(nil)
	_ AlertSink = (*SlogSink)(nil)
)

// NewSlogSink creates a logger-backed audit sink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) LogFinancialOperation(ctx context.Context, actor, operation, entityName, entityID string, changes, metadata map[string]any) {
	s.logger.InfoContext(ctx, "financial operation",
		"actor", actor,
		"operation", operation,
		"entity", entityName,
		"entity_id", entityID,
		"changes", changes,
		"metadata", metadata,
	)
}

func (s *SlogSink) Emit(ctx context.Context, eventType, severity, actorID, description string, details map[string]any) {
	s.logger.WarnContext(ctx, "security alert",
		"event_type", eventType,
		"severity", severity,
		"actor_id", actorID,
		"description", description,
		"details", details,
	)
}

// Event is a captured audit entry (Recorder only).
type Event struct {
	Actor      string
	Operation  string
	EntityName string
	EntityID   string
	Changes    map[string]any
	Metadata   map[string]any
	At         time.Time
}

// Alert is a captured security alert (Recorder only).
type Alert struct {
	EventType   string
	Severity    string
	ActorID     string
	Description string
	Details     map[string]any
	At          time.Time
}

// Recorder captures events and alerts in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	alerts []Alert
}

var (
	_ Sink      = (*Recorder)(nil)
	_ AlertSink = (*Recorder)(nil)
)

// NewRecorder creates an in-memory audit recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) LogFinancialOperation(_ context.Context, actor, operation, entityName, entityID string, changes, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		Actor:      actor,
		Operation:  operation,
		EntityName: entityName,
		EntityID:   entityID,
		Changes:    changes,
		Metadata:   metadata,
		At:         time.Now(),
	})
}

func (r *Recorder) Emit(_ context.Context, eventType, severity, actorID, description string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Alert{
		EventType:   eventType,
		Severity:    severity,
		ActorID:     actorID,
		Description: description,
		Details:     details,
		At:          time.Now(),
	})
}

// Events returns a copy of all captured audit events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Alerts returns a copy of all captured security alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// EventsByOperation filters captured events by operation type.
func (r *Recorder) EventsByOperation(op string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}
