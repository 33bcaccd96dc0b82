package provider

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
)

// MockSink simulates an SMS carrier for local runs and tests. It is the
// sink actually wired into the worker binary by default (spec.md §4.5),
// since a real carrier isn't needed to exercise the pipeline's retry and
// DLR-driven REVIEW paths.
type MockSink struct {
	seq             uint64
	dlrOverride     string
	timeoutRetryProb float64
	logger          *log.Logger
}

// NewMockSink builds a MockSink. dlrOverride, when one of DELIVERED,
// FAILED, BLOCKED, TIMEOUT, forces every simulated delivery receipt to
// that value instead of the random distribution below (grounded on the
// original implementation's MOCK_DLR_OVERRIDE). timeoutRetryProb controls
// how often a send is reported TIMEOUT.
func NewMockSink(dlrOverride string, timeoutRetryProb float64, logger *log.Logger) *MockSink {
	if logger == nil {
		logger = log.New(log.Writer(), "[mock-sink] ", log.LstdFlags)
	}
	switch dlrOverride {
	case "DELIVERED", "FAILED", "BLOCKED", "TIMEOUT":
	default:
		dlrOverride = ""
	}
	return &MockSink{dlrOverride: dlrOverride, timeoutRetryProb: timeoutRetryProb, logger: logger}
}

// Send always "succeeds" at the transport layer (status=1, queued) — the
// carrier-side outcome is reported separately via SimulateDLR, matching
// the async delivery-receipt model the real provider uses.
func (m *MockSink) Send(ctx context.Context, phone, body string) (SendResult, error) {
	id := atomic.AddUint64(&m.seq, 1)
	messageID := fmt.Sprintf("mock-%d", id)
	m.logger.Printf("mock sms send message_id=%s phone=%s body_len=%d", messageID, phone, len(body))
	return SendResult{ProviderMessageID: messageID, ProviderStatus: 1}, nil
}

// DLRSimulator is implemented by sinks that can report a synthetic
// delivery receipt for testing (MockSink). The pipeline orchestrator
// type-asserts for this rather than depending on MockSink directly, so a
// TwilioSink swapped in for production simply skips the injection path.
type DLRSimulator interface {
	SimulateDLR() string
}

// SimulateDLR returns the delivery receipt the mock carrier would
// eventually report for a sent message: DELIVERED 85% of the time,
// TIMEOUT with probability timeoutRetryProb, FAILED 3%, and BLOCKED the
// rest (12% minus timeoutRetryProb), unless overridden. A timeoutRetryProb
// above 0.12 crowds out FAILED and BLOCKED, and TIMEOUT never exceeds 15%.
func (m *MockSink) SimulateDLR() string {
	if m.dlrOverride != "" {
		return m.dlrOverride
	}
	r := rand.Float64()
	deliveredCutoff := 0.85
	timeoutCutoff := deliveredCutoff + m.timeoutRetryProb
	if r < deliveredCutoff {
		return "DELIVERED"
	}
	if r < timeoutCutoff {
		return "TIMEOUT"
	}
	if r < timeoutCutoff+0.03 {
		return "FAILED"
	}
	return "BLOCKED"
}
