package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the kind of administrative action being audited
type AuditEventType string

const (
	QuotaCreate  AuditEventType = "QUOTA_CREATE"
	QuotaModify  AuditEventType = "QUOTA_MODIFY"
	QuotaDelete  AuditEventType = "QUOTA_DELETE"
	BudgetCreate AuditEventType = "BUDGET_CREATE"
	BudgetModify AuditEventType = "BUDGET_MODIFY"
	BudgetDelete AuditEventType = "BUDGET_DELETE"
	FlavorCreate AuditEventType = "FLAVOR_CREATE"
	FlavorDelete AuditEventType = "FLAVOR_DELETE"
	SyncTrigger  AuditEventType = "SYNC_TRIGGER"

	// ReservationDiscard is recorded when reconciliation drops a stale reservation.
	ReservationDiscard AuditEventType = "RESERVATION_DISCARD"

	ConfigChange AuditEventType = "CONFIG_CHANGE"
	APIAccess    AuditEventType = "API_ACCESS"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent is one administrative action on the ledger.
type AuditEvent struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	EventType     AuditEventType         `json:"event_type"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Actor         string                 `json:"actor,omitempty"`
	Action        string                 `json:"action"`
	Resource      string                 `json:"resource,omitempty"`
	Status        AuditStatus            `json:"status"`
	Details       map[string]interface{} `json:"details,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
}

// NewAuditEvent creates a new audit event with a generated ID and timestamp
func NewAuditEvent(eventType AuditEventType, action string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Action:    action,
		Status:    status,
	}
}

func (e *AuditEvent) WithActor(actor string) *AuditEvent {
	e.Actor = actor
	return e
}

func (e *AuditEvent) WithResource(resource string) *AuditEvent {
	e.Resource = resource
	return e
}

func (e *AuditEvent) WithDetail(key string, value interface{}) *AuditEvent {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithError marks the event failed and records err.
func (e *AuditEvent) WithError(err error) *AuditEvent {
	if err == nil {
		return e
	}
	e.ErrorMessage = err.Error()
	e.Status = StatusFailure
	return e
}

// ToJSON converts the audit event to a JSON string
func (e *AuditEvent) ToJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal audit event: %v"}`, err)
	}
	return string(data)
}

// ParseAuditEvent parses a JSON string into an AuditEvent
func ParseAuditEvent(data string) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to parse audit event: %w", err)
	}
	return &event, nil
}

// AuditSink receives audit events.
type AuditSink interface {
	Record(ctx context.Context, event *AuditEvent)
}

// LogAuditSink writes audit events as info entries on a logger.
type LogAuditSink struct {
	logger *Logger
}

func NewLogAuditSink(l *Logger) *LogAuditSink {
	return &LogAuditSink{logger: l.With("component", "audit")}
}

func (s *LogAuditSink) Record(ctx context.Context, event *AuditEvent) {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}
	fields := []interface{}{
		"correlation_id", event.CorrelationID,
		"audit_id", event.ID,
		"event_type", string(event.EventType),
		"action", event.Action,
		"status", string(event.Status),
	}
	if event.Actor != "" {
		fields = append(fields, "actor", event.Actor)
	}
	if event.Resource != "" {
		fields = append(fields, "resource", event.Resource)
	}
	if len(event.Details) > 0 {
		fields = append(fields, "details", event.Details)
	}
	if event.ErrorMessage != "" {
		fields = append(fields, "error", event.ErrorMessage)
		s.logger.Warn("audit", fields...)
		return
	}
	s.logger.Info("audit", fields...)
}

// MemoryAuditSink keeps the most recent events in memory.
type MemoryAuditSink struct {
	mu     sync.Mutex
	max    int
	events []*AuditEvent
}

func NewMemoryAuditSink(max int) *MemoryAuditSink {
	if max <= 0 {
		max = 1000
	}
	return &MemoryAuditSink{max: max}
}

func (s *MemoryAuditSink) Record(ctx context.Context, event *AuditEvent) {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
}

// Events returns a copy of the recorded events, oldest first.
func (s *MemoryAuditSink) Events() []*AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// MultiAuditSink fans an event out to several sinks.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, event *AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, event)
		}
	}
}
