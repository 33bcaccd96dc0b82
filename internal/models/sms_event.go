// Package models defines the pipeline's core data types.
package models

import (
	"strconv"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of an SmsEvent.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusBlocked   Status = "BLOCKED"
	StatusFailed    Status = "FAILED"
	StatusInReview  Status = "IN_REVIEW"
	StatusInDLQ     Status = "IN_DLQ"
)

// DLR is a provider-reported delivery receipt outcome.
type DLR string

const (
	DLRDelivered DLR = "DELIVERED"
	DLRFailed    DLR = "FAILED"
	DLRBlocked   DLR = "BLOCKED"
	DLRTimeout   DLR = "TIMEOUT"
)

// ProviderStatus codes, per spec.md §6.3.
const (
	ProviderStatusQueued          = 1
	ProviderStatusScheduled       = 2
	ProviderStatusSentToCarrier4  = 4
	ProviderStatusSentToCarrier5  = 5
	ProviderStatusFailedToSend    = 6
	ProviderStatusDelivered       = 10
	ProviderStatusUndelivered     = 11
	ProviderStatusCancelled       = 13
	ProviderStatusBlocked         = 14
	ProviderStatusInvalidMessage  = 100
)

// FinalProviderStatuses lists the terminal codes from spec.md §6.3.
var FinalProviderStatuses = map[int]bool{
	ProviderStatusFailedToSend:   true,
	ProviderStatusDelivered:      true,
	ProviderStatusUndelivered:    true,
	ProviderStatusCancelled:      true,
	ProviderStatusBlocked:        true,
	ProviderStatusInvalidMessage: true,
}

// SmsEvent is the message lifecycle record described in spec.md §3.
type SmsEvent struct {
	ID                 int64
	ProviderMessageID  *string
	Phone              string
	Body               string
	RewrittenBody      *string
	Status             Status
	RetryCount         int
	SegmentCount       int
	LastDLR            *string
	ProviderStatus     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EffectiveBody returns the body the pipeline should act on: the rewritten
// body if present, else the original body. This is the reconciliation rule
// of spec.md §4.8 ("the row's rewritten_body ?? body").
func (e *SmsEvent) EffectiveBody() string {
	if e.RewrittenBody != nil && *e.RewrittenBody != "" {
		return *e.RewrittenBody
	}
	return e.Body
}

// ProcessingID is the identifier the rule engine and dedup store key off
// of: the provider message id once assigned, or a synthetic "event:<id>"
// handle before that (mirrors original_source/worker/process.py's
// `processing_id = message_id or f"event:{sms_event_id}"`).
func (e *SmsEvent) ProcessingID() string {
	if e.ProviderMessageID != nil && *e.ProviderMessageID != "" {
		return *e.ProviderMessageID
	}
	return EventProcessingID(e.ID)
}

// EventProcessingID builds the synthetic processing id for an event that
// has not yet been assigned a provider message id.
func EventProcessingID(smsEventID int64) string {
	return "event:" + strconv.FormatInt(smsEventID, 10)
}

// SegmentsFor computes ⌈len(body)/maxBodyChars⌉, the segment_count rule
// from spec.md §3. Length is counted in Unicode code points, matching the
// original Python implementation's `len(str)` semantics, not UTF-8 bytes.
func SegmentsFor(body string, maxBodyChars int) int {
	if maxBodyChars <= 0 {
		return 1
	}
	n := utf8.RuneCountInString(body)
	if n == 0 {
		return 1
	}
	segments := (n + maxBodyChars - 1) / maxBodyChars
	if segments < 1 {
		segments = 1
	}
	return segments
}
