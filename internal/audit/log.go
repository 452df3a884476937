// Package audit mirrors authentication events into the structured log
// stream. The durable attempt records live in the auth store; these lines
// exist so operators can follow activity without querying the database.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"pdifin.org/internal/auth"
	"pdifin.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log line enriched with request and account context.
// Attempted emails are masked before they reach the log stream.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if account, ok := auth.AccountFromContext(ctx); ok {
		entry["account_id"] = account.ID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "email" {
			if email, ok := v.(string); ok {
				copyFields[k] = auth.MaskEmail(email)
				continue
			}
		}
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
