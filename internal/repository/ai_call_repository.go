package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// AiCallRepository handles the append-only ai_calls audit log.
type AiCallRepository struct {
	db *sql.DB
}

// NewAiCallRepository creates a new AiCallRepository.
func NewAiCallRepository(db *sql.DB) *AiCallRepository {
	return &AiCallRepository{db: db}
}

// Insert records one advisor invocation. smsEventID may be nil if the
// event was deleted between dequeue and insert (ON DELETE SET NULL at the
// schema level keeps the audit row around). The ai_calls schema (spec.md
// §6.2) has no correlation id column; callers that need to join a review
// decision back to a message's requeue history log the correlation id
// alongside this call instead of persisting it.
func (r *AiCallRepository) Insert(ctx context.Context, smsEventID *int64, model string, inputTokens, outputTokens int, decision, reason string) error {
	const query = `
		INSERT INTO ai_calls (sms_event_id, model, input_tokens, output_tokens, decision, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	if _, err := r.db.ExecContext(ctx, query, smsEventID, model, inputTokens, outputTokens, decision, reason); err != nil {
		return fmt.Errorf("insert ai_call: %w", err)
	}
	return nil
}
