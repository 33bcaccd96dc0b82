package pipeline

import (
	"context"

	"github.com/masoudkazak/ai-sms-guard/internal/advisor"
	"github.com/masoudkazak/ai-sms-guard/internal/models"
)

// EventStore is the orchestrator's view of the event store adapter
// (internal/repository.EventRepository implements this). Carved out so the
// state machine in this package can be driven by an in-memory fake in
// tests instead of a live Postgres instance, the same way provider.Sink
// already lets tests swap a real Twilio client for provider.MockSink.
type EventStore interface {
	GetByID(ctx context.Context, id int64) (*models.SmsEvent, error)
	UpdateStatus(ctx context.Context, id int64, status models.Status, lastDLR *string, retryCount *int) error
	AssignProviderMessage(ctx context.Context, id int64, providerMessageID string, providerStatus int) error
	UpdateRewrittenBody(ctx context.Context, id int64, rewrittenBody string) error
	UpdateSegmentCount(ctx context.Context, id int64, segmentCount int) error
}

// AiCallStore is the orchestrator's view of the ai_calls audit log
// (internal/repository.AiCallRepository implements this).
type AiCallStore interface {
	Insert(ctx context.Context, smsEventID *int64, model string, inputTokens, outputTokens int, decision, reason string) error
}

// DedupMarker is the orchestrator's view of the duplicate-suppression
// store (internal/dedup.Store implements this).
type DedupMarker interface {
	Flags(ctx context.Context, messageID, phone, body string, windowSeconds int) (byMessageID, byPhoneBody bool)
	Mark(ctx context.Context, messageID string, ttlSeconds int)
}

// AdvisorClient is the orchestrator's view of the AI advisor
// (internal/advisor.Client implements this).
type AdvisorClient interface {
	Advise(ctx context.Context, messageID, phone, body string, retryCount int, lastDLR string, segmentCount int) advisor.Decision
}

// Publisher is the orchestrator's view of the queue broker's requeue path
// (internal/queue.Broker implements this via PublishMainMessage/
// PublishDLQMessage). It deliberately doesn't expose Channel/Consume —
// those stay on the concrete *queue.Broker for the supervisor's consumer
// loops, which this package never drives.
type Publisher interface {
	PublishMainMessage(body []byte) error
	PublishDLQMessage(body []byte) error
}
