package models

import "time"

// AiCall is the immutable audit record of an advisor invocation (spec.md §3).
type AiCall struct {
	ID           int64
	SmsEventID   *int64
	Model        string
	InputTokens  int
	OutputTokens int
	Decision     string
	Reason       string
	CreatedAt    time.Time
}

// Advisor decision vocabulary. Anything outside {DROP, REWRITE} is treated
// as DROP by the pipeline (spec.md §4.3).
const (
	AdvisorDecisionDrop    = "DROP"
	AdvisorDecisionRewrite = "REWRITE"
)
