// Package pipeline implements the per-message state machine described in
// SPEC_FULL.md component C8: consume → classify → act → ack, tying
// together the dedup store, daily limiter, advisor, rule engine,
// provider sink, queue broker, and event store.
package pipeline

import (
	"context"
	"log"
	"strings"
	"sync/atomic"

	"github.com/masoudkazak/ai-sms-guard/internal/models"
	"github.com/masoudkazak/ai-sms-guard/internal/provider"
	"github.com/masoudkazak/ai-sms-guard/internal/rules"
)

// Thresholds bundles the orchestrator's tunables, sourced from
// config.Config.
type Thresholds struct {
	rules.Thresholds
	DuplicateWindowSeconds int
	MockTimeoutRetryProb   float64
	AdvisorModel           string
	DLQPolicy              DLQAdvisorPolicy
}

// Orchestrator is the pipeline's state machine. One Orchestrator is
// shared by both the main and DLQ consumer loops. Its dependencies are
// held as interfaces (EventStore, AiCallStore, DedupMarker, AdvisorClient,
// Publisher) rather than the concrete repository/dedup/advisor/queue
// types, so ProcessMain/ProcessDLQ and their handlers can be driven by
// in-memory fakes in tests instead of a live Postgres+Redis+RabbitMQ+HTTP
// stack.
type Orchestrator struct {
	events     EventStore
	aiCalls    AiCallStore
	dedup      DedupMarker
	advisor    AdvisorClient
	sink       provider.Sink
	broker     Publisher
	thresholds Thresholds
	logger     *log.Logger

	processed int64
	sent      int64
	blocked   int64
	dlq       int64
	errors    int64
}

// New builds an Orchestrator.
func New(
	events EventStore,
	aiCalls AiCallStore,
	dedupStore DedupMarker,
	advisorClient AdvisorClient,
	sink provider.Sink,
	broker Publisher,
	thresholds Thresholds,
	logger *log.Logger,
) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[pipeline] ", log.LstdFlags)
	}
	return &Orchestrator{
		events:     events,
		aiCalls:    aiCalls,
		dedup:      dedupStore,
		advisor:    advisorClient,
		sink:       sink,
		broker:     broker,
		thresholds: thresholds,
		logger:     logger,
	}
}

// GetStats returns in-process counters for the orchestrator, in the same
// shape as the teacher's motor/queue-worker GetStats().
func (o *Orchestrator) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"processed": atomic.LoadInt64(&o.processed),
		"sent":      atomic.LoadInt64(&o.sent),
		"blocked":   atomic.LoadInt64(&o.blocked),
		"dlq":       atomic.LoadInt64(&o.dlq),
		"errors":    atomic.LoadInt64(&o.errors),
	}
}

// resolved bundles the effective fields the rule engine and advisor act
// on, reconciled from the queue payload (hot-path seed) against the
// event row (authoritative), per spec.md §4.8.
type resolved struct {
	event         *models.SmsEvent
	processingID  string
	phone         string
	body          string
	retryCount    int
	segmentCount  int
	lastDLR       string
	correlationID string
}

func (o *Orchestrator) resolve(payload *models.QueuePayload, event *models.SmsEvent) resolved {
	phone := payload.Phone
	if phone == "" {
		phone = event.Phone
	}

	body := payload.Body
	if body == "" {
		body = event.EffectiveBody()
	}

	retryCount := payload.RetryCount
	if retryCount == 0 {
		retryCount = event.RetryCount
	}

	segmentCount := payload.SegmentCount
	if segmentCount == 0 {
		segmentCount = event.SegmentCount
	}

	lastDLR := ""
	if payload.LastDLR != nil {
		lastDLR = *payload.LastDLR
	} else if event.LastDLR != nil {
		lastDLR = *event.LastDLR
	}

	return resolved{
		event:         event,
		processingID:  event.ProcessingID(),
		phone:         phone,
		body:          body,
		retryCount:    retryCount,
		segmentCount:  segmentCount,
		lastDLR:       lastDLR,
		correlationID: payload.EnsureCorrelationID(),
	}
}

// ProcessMain implements the main consumer's per-message logic
// (_process_main_message in the original implementation). It returns an
// error only for conditions the caller should nack-without-requeue on;
// validation failures are logged and treated as handled (ack).
func (o *Orchestrator) ProcessMain(ctx context.Context, raw []byte) error {
	atomic.AddInt64(&o.processed, 1)

	payload, err := models.ParseQueuePayload(raw)
	if err != nil {
		o.logger.Printf("invalid main payload, discarding: %v", err)
		return nil
	}

	event, err := o.events.GetByID(ctx, payload.SmsEventID)
	if err != nil {
		o.logger.Printf("sms_event not found id=%d: %v", payload.SmsEventID, err)
		return nil
	}

	r := o.resolve(payload, event)

	dupByID, dupByContent := o.dedup.Flags(ctx, r.processingID, r.phone, r.body, o.thresholds.DuplicateWindowSeconds)

	result := rules.Classify(rules.Input{
		MessageID:    r.processingID,
		Phone:        r.phone,
		Body:         r.body,
		RetryCount:   r.retryCount,
		LastDLR:      r.lastDLR,
		SegmentCount: r.segmentCount,
		DupByID:      dupByID,
		DupByContent: dupByContent,
	}, o.thresholds.Thresholds, o.logger)

	switch result {
	case rules.Send:
		return o.handleSend(ctx, payload, r)
	case rules.Drop:
		return o.handleDrop(ctx, r)
	case rules.Review:
		return o.handleReview(ctx, payload, r)
	default: // rules.Poison
		return o.handlePoison(ctx, raw, r)
	}
}

func (o *Orchestrator) handleSend(ctx context.Context, payload *models.QueuePayload, r resolved) error {
	result, err := o.sink.Send(ctx, r.phone, r.body)
	if err != nil || result.ProviderMessageID == "" {
		o.logger.Printf("provider send failed sms_event_id=%d: %v", r.event.ID, err)
		atomic.AddInt64(&o.errors, 1)
		retryCount := r.retryCount + 1
		return o.events.UpdateStatus(ctx, r.event.ID, models.StatusPending, nil, &retryCount)
	}

	if err := o.events.AssignProviderMessage(ctx, r.event.ID, result.ProviderMessageID, result.ProviderStatus); err != nil {
		atomic.AddInt64(&o.errors, 1)
		return err
	}

	if sim, ok := o.sink.(provider.DLRSimulator); ok && r.retryCount < o.thresholds.MaxRetryBeforeDLQ {
		if sim.SimulateDLR() == "TIMEOUT" {
			return o.injectTimeoutRetry(ctx, payload, r)
		}
	}

	atomic.AddInt64(&o.sent, 1)
	if err := o.events.UpdateStatus(ctx, r.event.ID, models.StatusSent, nil, &r.retryCount); err != nil {
		atomic.AddInt64(&o.errors, 1)
		return err
	}
	o.dedup.Mark(ctx, result.ProviderMessageID, o.thresholds.DuplicateWindowSeconds)
	return nil
}

func (o *Orchestrator) injectTimeoutRetry(ctx context.Context, payload *models.QueuePayload, r resolved) error {
	newRetryCount := r.retryCount + 1
	timeout := "TIMEOUT"
	payload.RetryCount = newRetryCount
	payload.LastDLR = &timeout
	payload.Body = r.body
	payload.Phone = r.phone
	payload.SegmentCount = r.segmentCount

	body, err := payload.Marshal()
	if err != nil {
		return err
	}

	if err := o.broker.PublishMainMessage(body); err != nil {
		return err
	}

	o.logger.Printf("injected TIMEOUT retry sms_event_id=%d retry_count=%d", r.event.ID, newRetryCount)
	return o.events.UpdateStatus(ctx, r.event.ID, models.StatusPending, &timeout, &newRetryCount)
}

func (o *Orchestrator) handleDrop(ctx context.Context, r resolved) error {
	atomic.AddInt64(&o.blocked, 1)
	if err := o.events.UpdateStatus(ctx, r.event.ID, models.StatusBlocked, nil, nil); err != nil {
		atomic.AddInt64(&o.errors, 1)
		return err
	}
	o.dedup.Mark(ctx, r.processingID, o.thresholds.DuplicateWindowSeconds)
	return nil
}

func (o *Orchestrator) handlePoison(ctx context.Context, raw []byte, r resolved) error {
	atomic.AddInt64(&o.dlq, 1)
	if err := o.broker.PublishDLQMessage(raw); err != nil {
		return err
	}
	if err := o.events.UpdateStatus(ctx, r.event.ID, models.StatusInDLQ, nil, nil); err != nil {
		atomic.AddInt64(&o.errors, 1)
		return err
	}
	o.dedup.Mark(ctx, r.processingID, o.thresholds.DuplicateWindowSeconds)
	return nil
}

func (o *Orchestrator) handleReview(ctx context.Context, payload *models.QueuePayload, r resolved) error {
	decision := o.advisor.Advise(ctx, r.processingID, r.phone, r.body, r.retryCount, r.lastDLR, r.segmentCount)

	o.logger.Printf("ai_call sms_event_id=%d correlation_id=%s decision=%s reason=%q", r.event.ID, r.correlationID, decision.Decision, decision.Reason)
	if err := o.aiCalls.Insert(ctx, &r.event.ID, o.thresholds.AdvisorModel, decision.InputTokens, decision.OutputTokens, decision.Decision, decision.Reason); err != nil {
		o.logger.Printf("failed to record ai_call sms_event_id=%d: %v", r.event.ID, err)
	}

	if decision.RateLimited {
		return o.handleDrop(ctx, r)
	}

	if err := o.events.UpdateStatus(ctx, r.event.ID, models.StatusInReview, nil, nil); err != nil {
		atomic.AddInt64(&o.errors, 1)
		return err
	}

	if decision.Decision != models.AdvisorDecisionRewrite {
		return o.handleDrop(ctx, r)
	}

	rewritten := strings.TrimSpace(decision.Body)
	if rewritten == "" {
		return o.handleDrop(ctx, r)
	}

	if err := o.events.UpdateRewrittenBody(ctx, r.event.ID, rewritten); err != nil {
		return err
	}
	if err := o.events.UpdateSegmentCount(ctx, r.event.ID, 1); err != nil {
		return err
	}

	payload.Body = rewritten
	payload.SegmentCount = 1
	body, err := payload.Marshal()
	if err != nil {
		return err
	}

	if err := o.broker.PublishMainMessage(body); err != nil {
		return err
	}

	return o.events.UpdateStatus(ctx, r.event.ID, models.StatusPending, nil, &r.retryCount)
}

// ProcessDLQ implements the DLQ consumer's per-message logic
// (_process_dlq_message). The DLQ is a quarantine sink: it never
// re-invokes the advisor.
func (o *Orchestrator) ProcessDLQ(ctx context.Context, raw []byte) error {
	atomic.AddInt64(&o.processed, 1)

	if o.thresholds.DLQPolicy == ConsultAdvisor {
		return ErrDLQAdvisorPolicyNotImplemented
	}

	payload, err := models.ParseQueuePayload(raw)
	if err != nil {
		o.logger.Printf("invalid dlq payload, discarding: %v", err)
		return nil
	}

	atomic.AddInt64(&o.blocked, 1)
	if err := o.events.UpdateStatus(ctx, payload.SmsEventID, models.StatusBlocked, nil, nil); err != nil {
		atomic.AddInt64(&o.errors, 1)
		return err
	}
	o.dedup.Mark(ctx, models.EventProcessingID(payload.SmsEventID), o.thresholds.DuplicateWindowSeconds)
	return nil
}
