package models

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrBadPayload is returned when a queue message fails validation: missing
// sms_event_id, or the JSON simply doesn't parse. Per spec.md §7 this
// class of error is logged at WARN and the message is discarded, not
// requeued.
var ErrBadPayload = errors.New("bad queue payload")

// QueuePayload is the unit of work on both the MAIN and DLQ queues
// (spec.md §6.1). Unknown JSON keys are ignored by default Go decoding.
type QueuePayload struct {
	SmsEventID    int64   `json:"sms_event_id"`
	Phone         string  `json:"phone,omitempty"`
	Body          string  `json:"body,omitempty"`
	RetryCount    int     `json:"retry_count,omitempty"`
	SegmentCount  int     `json:"segment_count,omitempty"`
	LastDLR       *string `json:"last_dlr,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// EnsureCorrelationID returns the payload's tracing id, minting a fresh
// one on first touch so every MAIN requeue and advisor-call log line for
// a given message shares a single id end to end. The id is not stored in
// ai_calls rows.
func (p *QueuePayload) EnsureCorrelationID() string {
	if p.CorrelationID == "" {
		p.CorrelationID = uuid.NewString()
	}
	return p.CorrelationID
}

// ParseQueuePayload decodes and validates a raw queue message body.
func ParseQueuePayload(raw []byte) (*QueuePayload, error) {
	var p QueuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrBadPayload
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the one required field: sms_event_id must reference an
// existing row (existence is checked by the caller against the event
// store; here we only check it's a plausible positive id).
func (p *QueuePayload) Validate() error {
	if p.SmsEventID <= 0 {
		return ErrBadPayload
	}
	return nil
}

// Marshal serializes the payload back to JSON for republishing.
func (p *QueuePayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
