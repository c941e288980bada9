// Package audit records every state-changing operation into the
// append-only audit_log table. Writes happen in the same transaction
// as the mutation they describe, so a mutation without its audit row
// cannot be committed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-hr/meridian-hr/internal/platform/db"
)

// Entry describes one recorded operation.
type Entry struct {
	RequestID  string
	ActorID    uuid.UUID
	EntityType string
	EntityID   string
	Action     string
	Before     map[string]any
	After      map[string]any
	Reason     string
}

// Recorder writes audit entries.
type Recorder struct{}

// NewRecorder returns a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Write persists the entry using the caller's transaction. Before and
// after payloads are masked, then serialized as JSON. An error here
// must fail the surrounding transaction.
func (r *Recorder) Write(ctx context.Context, q db.Queryer, e Entry) error {
	if e.EntityType == "" || e.Action == "" {
		return fmt.Errorf("audit: entry requires entity_type and action")
	}

	beforeJSON, err := marshalMasked(e.Before)
	if err != nil {
		return fmt.Errorf("audit: marshal before: %w", err)
	}
	afterJSON, err := marshalMasked(e.After)
	if err != nil {
		return fmt.Errorf("audit: marshal after: %w", err)
	}

	var actorID any
	if e.ActorID != uuid.Nil {
		actorID = e.ActorID
	}
	var requestID any
	if e.RequestID != "" {
		requestID = e.RequestID
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_log (id, request_id, actor_id, entity_type, entity_id, action, before, after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New(), requestID, actorID, e.EntityType, e.EntityID, e.Action, beforeJSON, afterJSON, e.Reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func marshalMasked(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(MaskPayload(payload))
}

// MaskPayload returns a copy of payload with sensitive fields redacted.
// Credentials disappear entirely, bank identifiers keep their last four
// characters, and compensation amounts are replaced wholesale.
func MaskPayload(payload map[string]any) map[string]any {
	masked := make(map[string]any, len(payload))
	for key, value := range payload {
		masked[key] = maskValue(key, value)
	}
	return masked
}

func maskValue(key string, value any) any {
	if nested, ok := value.(map[string]any); ok {
		return MaskPayload(nested)
	}

	lower := strings.ToLower(key)
	switch {
	case containsAny(lower, "token", "secret", "password"):
		return "[REDACTED]"
	case containsAny(lower, "bank", "account"):
		return maskTail(value)
	case containsAny(lower, "salary", "ctc", "compensation"):
		return "[MASKED]"
	default:
		return value
	}
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func maskTail(value any) any {
	s, ok := value.(string)
	if !ok {
		return "[MASKED]"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
