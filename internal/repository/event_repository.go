// Package repository implements the event store adapter described in
// SPEC_FULL.md component C7: CRUD on sms_events and ai_calls with the
// conditional-update idioms (COALESCE passthrough) the original worker
// used directly against psycopg2.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/masoudkazak/ai-sms-guard/internal/models"
)

// ErrEventNotFound is returned when a lookup finds no matching row.
var ErrEventNotFound = errors.New("sms event not found")

// EventRepository handles sms_events data access.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetByID loads a single event by its primary identity.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*models.SmsEvent, error) {
	const query = `
		SELECT id, provider_message_id, phone, body, rewritten_body, status,
		       retry_count, segment_count, last_dlr, provider_status, created_at, updated_at
		FROM sms_events
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByProviderMessageID loads a single event by the id the provider
// assigned on first hand-off.
func (r *EventRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.SmsEvent, error) {
	const query = `
		SELECT id, provider_message_id, phone, body, rewritten_body, status,
		       retry_count, segment_count, last_dlr, provider_status, created_at, updated_at
		FROM sms_events
		WHERE provider_message_id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, providerMessageID))
}

func (r *EventRepository) scanOne(row *sql.Row) (*models.SmsEvent, error) {
	var e models.SmsEvent
	var providerMessageID, rewrittenBody, lastDLR sql.NullString

	err := row.Scan(
		&e.ID, &providerMessageID, &e.Phone, &e.Body, &rewrittenBody, &e.Status,
		&e.RetryCount, &e.SegmentCount, &lastDLR, &e.ProviderStatus, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sms_event: %w", err)
	}

	if providerMessageID.Valid {
		e.ProviderMessageID = &providerMessageID.String
	}
	if rewrittenBody.Valid {
		e.RewrittenBody = &rewrittenBody.String
	}
	if lastDLR.Valid {
		e.LastDLR = &lastDLR.String
	}

	return &e, nil
}

// UpdateStatus sets status and, when non-nil, retry_count, with last_dlr
// passed through COALESCE so a nil lastDLR leaves the existing value
// untouched — mirrors the original implementation's update_sms_status.
func (r *EventRepository) UpdateStatus(ctx context.Context, id int64, status models.Status, lastDLR *string, retryCount *int) error {
	if retryCount != nil {
		const query = `
			UPDATE sms_events
			SET status = $1, last_dlr = COALESCE($2, last_dlr), retry_count = $3, updated_at = NOW()
			WHERE id = $4
		`
		_, err := r.db.ExecContext(ctx, query, status, lastDLR, *retryCount, id)
		if err != nil {
			return fmt.Errorf("update sms_event status: %w", err)
		}
		return nil
	}

	const query = `
		UPDATE sms_events
		SET status = $1, last_dlr = COALESCE($2, last_dlr), updated_at = NOW()
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, status, lastDLR, id); err != nil {
		return fmt.Errorf("update sms_event status: %w", err)
	}
	return nil
}

// AssignProviderMessage records the provider-assigned message id and its
// initial status code on first successful hand-off.
func (r *EventRepository) AssignProviderMessage(ctx context.Context, id int64, providerMessageID string, providerStatus int) error {
	const query = `
		UPDATE sms_events
		SET provider_message_id = $1, provider_status = $2, updated_at = NOW()
		WHERE id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, providerMessageID, providerStatus, id); err != nil {
		return fmt.Errorf("assign provider message: %w", err)
	}
	return nil
}

// UpdateProviderStatusByMessageID applies a later delivery-receipt status
// code keyed by the provider's own message id (used when reconciling
// asynchronous DLR callbacks).
func (r *EventRepository) UpdateProviderStatusByMessageID(ctx context.Context, providerMessageID string, providerStatus int, lastDLR *string) error {
	const query = `
		UPDATE sms_events
		SET provider_status = $1, last_dlr = COALESCE($2, last_dlr), updated_at = NOW()
		WHERE provider_message_id = $3
	`
	if _, err := r.db.ExecContext(ctx, query, providerStatus, lastDLR, providerMessageID); err != nil {
		return fmt.Errorf("update provider status: %w", err)
	}
	return nil
}

// UpdateRewrittenBody sets the advisor-suggested rewritten body.
func (r *EventRepository) UpdateRewrittenBody(ctx context.Context, id int64, rewrittenBody string) error {
	const query = `
		UPDATE sms_events
		SET rewritten_body = $1, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, rewrittenBody, id); err != nil {
		return fmt.Errorf("update rewritten body: %w", err)
	}
	return nil
}

// UpdateSegmentCount sets segment_count (reset to 1 on REWRITE per the
// data model invariant in spec.md §3).
func (r *EventRepository) UpdateSegmentCount(ctx context.Context, id int64, segmentCount int) error {
	const query = `
		UPDATE sms_events
		SET segment_count = $1, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, segmentCount, id); err != nil {
		return fmt.Errorf("update segment count: %w", err)
	}
	return nil
}

// Insert creates a new sms_events row in PENDING status, for any intake
// path exercising the pipeline end to end.
func (r *EventRepository) Insert(ctx context.Context, phone, body string, segmentCount int) (int64, error) {
	const query = `
		INSERT INTO sms_events (phone, body, status, retry_count, segment_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query, phone, body, models.StatusPending, segmentCount).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sms_event: %w", err)
	}
	return id, nil
}
