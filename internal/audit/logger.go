// Package audit records security-relevant account and session actions as
// structured log entries.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Entry represents a single audit log entry with structured fields
type Entry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	Actor        string            `json:"actor,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Status       string            `json:"status"` // "success" or "failure"
	Details      map[string]string `json:"details,omitempty"`
}

// Logger writes audit entries through zerolog. A nil *Logger discards
// everything.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *Logger) Log(ctx context.Context, entry Entry) {
	if l == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.IPAddress == "" {
		entry.IPAddress = ClientIPFromContext(ctx)
	}

	event := l.logger.Info()
	if requestID := requestIDFromContext(ctx); requestID != "" {
		event = event.Str("request_id", requestID)
	}
	event.Interface("audit", entry).Msg("audit")
}

func (l *Logger) LogSuccess(ctx context.Context, action, actor, resourceType, resourceID string, details map[string]string) {
	l.Log(ctx, Entry{
		Action:       action,
		Actor:        actor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       "success",
		Details:      details,
	})
}

func (l *Logger) LogFailure(ctx context.Context, action, actor string, details map[string]string) {
	l.Log(ctx, Entry{
		Action:  action,
		Actor:   actor,
		Status:  "failure",
		Details: details,
	})
}

type contextKey string

const (
	clientIPKey  contextKey = "audit_client_ip"
	requestIDKey contextKey = "audit_request_id"
)

// WithRequest stores the caller's address and request id for entries logged
// further down the call chain.
func WithRequest(ctx context.Context, clientIP, requestID string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, requestIDKey, requestID)
}

func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
