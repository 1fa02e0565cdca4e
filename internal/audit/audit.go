// Package audit provides fire-and-forget structured event logging for
// compliance: query lifecycle, authentication, data access, security
// violations, and cost events.
package audit

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// EventType classifies audit events.
type EventType string

const (
	EventQuery          EventType = "query_executed"
	EventAuthentication EventType = "authentication"
	EventDataAccess     EventType = "data_access"
	EventSecurity       EventType = "security_event"
	EventCost           EventType = "cost_event"
)

// Event is a single audit record.
type Event struct {
	Type      EventType              `json:"type"`
	TenantID  string                 `json:"tenant_id"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"ts"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Sink accepts audit events. Ingestion is fire-and-forget: implementations
// must never block the request path or surface errors into it.
type Sink interface {
	Emit(ev Event)
}

// Logger writes events as JSON lines. It is the default sink; production
// deployments point the writer at the rotating audit log.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogger creates a sink writing to w (stdout if nil).
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{out: w}
}

// Emit implements Sink.
func (l *Logger) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[WARN] audit: drop unmarshalable event type=%s tenant=%s: %v", ev.Type, ev.TenantID, err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		log.Printf("[WARN] audit: write failed: %v", err)
	}
}

// LogQuery records a query lifecycle transition. Query text is truncated to
// keep PII out of long-lived logs.
func LogQuery(s Sink, tenantID, userID, query, status string) {
	if len(query) > 100 {
		query = query[:100]
	}
	s.Emit(Event{
		Type:     EventQuery,
		TenantID: tenantID,
		UserID:   userID,
		Details:  map[string]interface{}{"query": query, "status": status},
	})
}

// LogSecurityEvent records a security violation.
func LogSecurityEvent(s Sink, tenantID, eventKind string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["event"] = eventKind
	s.Emit(Event{Type: EventSecurity, TenantID: tenantID, Details: details})
}

// LogCostEvent records a billable event.
func LogCostEvent(s Sink, tenantID, costType string, amount float64, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["cost_type"] = costType
	details["amount"] = amount
	s.Emit(Event{Type: EventCost, TenantID: tenantID, Details: details})
}

// LogDataAccess records resource access for the audit trail.
func LogDataAccess(s Sink, tenantID, userID, resource, action string) {
	s.Emit(Event{
		Type:     EventDataAccess,
		TenantID: tenantID,
		UserID:   userID,
		Details:  map[string]interface{}{"resource": resource, "action": action},
	})
}

// Discard is a sink that drops everything; used in tests and when auditing
// is disabled.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}
