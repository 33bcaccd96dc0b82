// Package provider implements the outbound SMS sink described in
// SPEC_FULL.md component C5: a mock sink for local/dev runs and a Twilio
// sink for production.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned by a sink that was constructed without
	// the credentials it needs to reach the real provider.
	ErrNotConfigured = errors.New("sms provider not configured")

	// ErrSendFailed wraps any transport-level failure from the provider.
	ErrSendFailed = errors.New("sms send failed")
)

// SendResult carries what the pipeline needs to persist after a send
// attempt: the provider's message id (used as the processing id going
// forward) and its initial status code (spec.md §6.3).
type SendResult struct {
	ProviderMessageID string
	ProviderStatus    int
}

// Sink is the pipeline's abstraction over "a thing that can send an SMS".
type Sink interface {
	Send(ctx context.Context, phone, body string) (SendResult, error)
}
