// Package rules implements the pure classification function described in
// SPEC_FULL.md component C4. Classify never talks to Redis, Postgres, or
// the network itself; dedup flags are supplied by the caller (the
// orchestrator, which owns the dedup.Store) so the rule engine stays a
// deterministic, trivially testable function.
package rules

import (
	"log"
	"unicode/utf8"
)

// Result is the outcome of a classification pass.
type Result string

const (
	Send   Result = "SEND"
	Review Result = "REVIEW"
	Poison Result = "POISON"
	Drop   Result = "DROP"
)

// DLR values the engine compares against. Mirrors models.DLR but kept
// string-typed here to avoid a dependency from rules on models.
const (
	dlrFailed  = "FAILED"
	dlrBlocked = "BLOCKED"
	dlrTimeout = "TIMEOUT"
)

// Thresholds bundles the tunables the rule engine evaluates against, all
// sourced from config.Config.
type Thresholds struct {
	MaxRetryBeforeDLQ         int
	MultipartSegmentThreshold int
	MaxBodyChars              int
}

// Input is everything Classify needs about one message.
type Input struct {
	MessageID     string
	Phone         string
	Body          string
	RetryCount    int
	LastDLR       string // "" if unset
	SegmentCount  int
	DupByID       bool
	DupByContent  bool
}

// Classify evaluates the ordered rule table (retry cap, FAILED/BLOCKED
// retry, TIMEOUT retry, segment threshold, long multi-segment body,
// duplicate, otherwise SEND) and returns the first matching result. Logging mirrors the original
// implementation's per-rule trace so operators can see why a message took
// the path it did.
func Classify(in Input, t Thresholds, logger *log.Logger) Result {
	if logger == nil {
		logger = log.New(log.Writer(), "[rules] ", log.LstdFlags)
	}

	if in.RetryCount >= t.MaxRetryBeforeDLQ {
		logger.Printf("classify=POISON mid=%s reason=retry_count(%d)>=max(%d)", in.MessageID, in.RetryCount, t.MaxRetryBeforeDLQ)
		return Poison
	}

	if (in.LastDLR == dlrFailed || in.LastDLR == dlrBlocked) && in.RetryCount >= 1 {
		logger.Printf("classify=POISON mid=%s reason=last_dlr=%s retry_count=%d", in.MessageID, in.LastDLR, in.RetryCount)
		return Poison
	}

	if in.LastDLR == dlrTimeout && in.RetryCount >= 1 {
		logger.Printf("classify=REVIEW mid=%s reason=timeout_retry", in.MessageID)
		return Review
	}

	if in.SegmentCount > t.MultipartSegmentThreshold {
		logger.Printf("classify=REVIEW mid=%s reason=segments(%d)>threshold(%d)", in.MessageID, in.SegmentCount, t.MultipartSegmentThreshold)
		return Review
	}

	if utf8.RuneCountInString(in.Body) > t.MaxBodyChars && in.SegmentCount >= 2 {
		logger.Printf("classify=REVIEW mid=%s reason=long_body_multi_segment", in.MessageID)
		return Review
	}

	if in.DupByID || in.DupByContent {
		logger.Printf("classify=DROP mid=%s reason=duplicate(by_id=%v,by_content=%v)", in.MessageID, in.DupByID, in.DupByContent)
		return Drop
	}

	logger.Printf("classify=SEND mid=%s", in.MessageID)
	return Send
}
