package pipeline

import (
	"context"
	"errors"
	"log"
	"testing"

	"github.com/masoudkazak/ai-sms-guard/internal/advisor"
	"github.com/masoudkazak/ai-sms-guard/internal/models"
	"github.com/masoudkazak/ai-sms-guard/internal/provider"
	"github.com/masoudkazak/ai-sms-guard/internal/rules"
)

// fakeEventStore is an in-memory stand-in for repository.EventRepository,
// grounded on the same seam provider.Sink already gives the pipeline for
// swapping a real Twilio client for provider.MockSink in tests.
type fakeEventStore struct {
	events map[int64]*models.SmsEvent

	lastStatus        models.Status
	lastLastDLR       *string
	lastRetryCount    *int
	assignedMessageID string
	assignedStatus    int
	rewrittenBody     string
	segmentCount      int
}

func newFakeEventStore(events ...*models.SmsEvent) *fakeEventStore {
	m := make(map[int64]*models.SmsEvent, len(events))
	for _, e := range events {
		m[e.ID] = e
	}
	return &fakeEventStore{events: m}
}

func (f *fakeEventStore) GetByID(ctx context.Context, id int64) (*models.SmsEvent, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (f *fakeEventStore) UpdateStatus(ctx context.Context, id int64, status models.Status, lastDLR *string, retryCount *int) error {
	f.lastStatus = status
	f.lastLastDLR = lastDLR
	f.lastRetryCount = retryCount
	if e, ok := f.events[id]; ok {
		e.Status = status
	}
	return nil
}

func (f *fakeEventStore) AssignProviderMessage(ctx context.Context, id int64, providerMessageID string, providerStatus int) error {
	f.assignedMessageID = providerMessageID
	f.assignedStatus = providerStatus
	return nil
}

func (f *fakeEventStore) UpdateRewrittenBody(ctx context.Context, id int64, rewrittenBody string) error {
	f.rewrittenBody = rewrittenBody
	return nil
}

func (f *fakeEventStore) UpdateSegmentCount(ctx context.Context, id int64, segmentCount int) error {
	f.segmentCount = segmentCount
	return nil
}

// fakeAiCallStore records every ai_calls row the orchestrator would have
// inserted, without needing sqlmock or a live Postgres.
type fakeAiCallStore struct {
	calls int
	last  struct {
		decision, reason string
	}
}

func (f *fakeAiCallStore) Insert(ctx context.Context, smsEventID *int64, model string, inputTokens, outputTokens int, decision, reason string) error {
	f.calls++
	f.last.decision = decision
	f.last.reason = reason
	return nil
}

// fakeDedup tracks Mark calls and returns canned Flags results, standing
// in for a Redis-backed dedup.Store.
type fakeDedup struct {
	byID, byContent bool
	marked          []string
}

func (f *fakeDedup) Flags(ctx context.Context, messageID, phone, body string, windowSeconds int) (bool, bool) {
	return f.byID, f.byContent
}

func (f *fakeDedup) Mark(ctx context.Context, messageID string, ttlSeconds int) {
	f.marked = append(f.marked, messageID)
}

// fakeAdvisor returns a canned advisor.Decision instead of calling out to
// an LLM endpoint.
type fakeAdvisor struct {
	decision advisor.Decision
}

func (f *fakeAdvisor) Advise(ctx context.Context, messageID, phone, body string, retryCount int, lastDLR string, segmentCount int) advisor.Decision {
	return f.decision
}

// fakePublisher records what would have been requeued to MAIN/DLQ without
// a live RabbitMQ connection.
type fakePublisher struct {
	mainBodies [][]byte
	dlqBodies  [][]byte
	mainErr    error
	dlqErr     error
}

func (f *fakePublisher) PublishMainMessage(body []byte) error {
	if f.mainErr != nil {
		return f.mainErr
	}
	f.mainBodies = append(f.mainBodies, body)
	return nil
}

func (f *fakePublisher) PublishDLQMessage(body []byte) error {
	if f.dlqErr != nil {
		return f.dlqErr
	}
	f.dlqBodies = append(f.dlqBodies, body)
	return nil
}

// fakeSink is a provider.Sink double that also implements
// provider.DLRSimulator: SimulateDLR returns forceDLR, so setting it to
// "TIMEOUT" exercises handleSend's TIMEOUT-injection path without
// provider.MockSink's randomness, and leaving it empty never injects.
type fakeSink struct {
	result   provider.SendResult
	err      error
	forceDLR string
}

func (f *fakeSink) Send(ctx context.Context, phone, body string) (provider.SendResult, error) {
	return f.result, f.err
}

func (f *fakeSink) SimulateDLR() string { return f.forceDLR }

func testOrchestrator(events *fakeEventStore, aiCalls *fakeAiCallStore, dedupStore *fakeDedup, adv *fakeAdvisor, sink provider.Sink, pub *fakePublisher) *Orchestrator {
	return New(events, aiCalls, dedupStore, adv, sink, pub, Thresholds{
		Thresholds: rules.Thresholds{MaxRetryBeforeDLQ: 5, MultipartSegmentThreshold: 3, MaxBodyChars: 320},
	}, log.New(log.Writer(), "[test] ", 0))
}

func baseResolved(event *models.SmsEvent) resolved {
	return resolved{
		event:         event,
		processingID:  event.ProcessingID(),
		phone:         event.Phone,
		body:          event.Body,
		retryCount:    event.RetryCount,
		segmentCount:  event.SegmentCount,
		correlationID: "corr-1",
	}
}

func TestHandleSendSuccessMarksSentAndDedup(t *testing.T) {
	event := &models.SmsEvent{ID: 1, Phone: "+15550000000", Body: "hi"}
	events := newFakeEventStore(event)
	dedupStore := &fakeDedup{}
	sink := &fakeSink{result: provider.SendResult{ProviderMessageID: "PMSG-1", ProviderStatus: 1}}
	o := testOrchestrator(events, &fakeAiCallStore{}, dedupStore, &fakeAdvisor{}, sink, &fakePublisher{})

	r := baseResolved(event)
	payload := &models.QueuePayload{SmsEventID: event.ID}
	if err := o.handleSend(context.Background(), payload, r); err != nil {
		t.Fatalf("handleSend returned error: %v", err)
	}

	if events.assignedMessageID != "PMSG-1" {
		t.Errorf("expected provider message id to be assigned, got %q", events.assignedMessageID)
	}
	if events.lastStatus != models.StatusSent {
		t.Errorf("expected status SENT, got %s", events.lastStatus)
	}
	if len(dedupStore.marked) != 1 || dedupStore.marked[0] != "PMSG-1" {
		t.Errorf("expected dedup.Mark(PMSG-1), got %v", dedupStore.marked)
	}
	if o.GetStats()["sent"] != int64(1) {
		t.Errorf("expected sent counter to increment")
	}
}

func TestHandleSendProviderErrorRetriesPending(t *testing.T) {
	event := &models.SmsEvent{ID: 2, Phone: "+15550000000", Body: "hi", RetryCount: 1}
	events := newFakeEventStore(event)
	sink := &fakeSink{err: provider.ErrSendFailed}
	o := testOrchestrator(events, &fakeAiCallStore{}, &fakeDedup{}, &fakeAdvisor{}, sink, &fakePublisher{})

	r := baseResolved(event)
	payload := &models.QueuePayload{SmsEventID: event.ID}
	if err := o.handleSend(context.Background(), payload, r); err != nil {
		t.Fatalf("handleSend returned error: %v", err)
	}

	if events.lastStatus != models.StatusPending {
		t.Errorf("expected status PENDING on provider failure, got %s", events.lastStatus)
	}
	if events.lastRetryCount == nil || *events.lastRetryCount != 2 {
		t.Errorf("expected retry_count incremented to 2, got %v", events.lastRetryCount)
	}
	if o.GetStats()["errors"] != int64(1) {
		t.Errorf("expected errors counter to increment")
	}
}

func TestHandleSendTimeoutDLRInjectsRetryAndRequeues(t *testing.T) {
	event := &models.SmsEvent{ID: 3, Phone: "+15550000000", Body: "hi", RetryCount: 0}
	events := newFakeEventStore(event)
	sink := &fakeSink{result: provider.SendResult{ProviderMessageID: "PMSG-3", ProviderStatus: 1}, forceDLR: "TIMEOUT"}
	pub := &fakePublisher{}
	o := New(events, &fakeAiCallStore{}, &fakeDedup{}, &fakeAdvisor{}, sink, pub, Thresholds{
		Thresholds: rules.Thresholds{MaxRetryBeforeDLQ: 5},
	}, nil)

	r := baseResolved(event)
	payload := &models.QueuePayload{SmsEventID: event.ID, Phone: event.Phone, Body: event.Body}
	if err := o.handleSend(context.Background(), payload, r); err != nil {
		t.Fatalf("handleSend returned error: %v", err)
	}

	if len(pub.mainBodies) != 1 {
		t.Fatalf("expected one requeued MAIN message, got %d", len(pub.mainBodies))
	}
	if events.lastStatus != models.StatusPending {
		t.Errorf("expected status PENDING after TIMEOUT injection, got %s", events.lastStatus)
	}
	if events.lastLastDLR == nil || *events.lastLastDLR != "TIMEOUT" {
		t.Errorf("expected last_dlr TIMEOUT recorded, got %v", events.lastLastDLR)
	}
	if events.lastRetryCount == nil || *events.lastRetryCount != 1 {
		t.Errorf("expected retry_count incremented to 1, got %v", events.lastRetryCount)
	}
}

func TestHandleDropMarksBlockedAndDedup(t *testing.T) {
	event := &models.SmsEvent{ID: 4, Phone: "+15550000000", Body: "hi"}
	events := newFakeEventStore(event)
	dedupStore := &fakeDedup{}
	o := testOrchestrator(events, &fakeAiCallStore{}, dedupStore, &fakeAdvisor{}, &fakeSink{}, &fakePublisher{})

	r := baseResolved(event)
	if err := o.handleDrop(context.Background(), r); err != nil {
		t.Fatalf("handleDrop returned error: %v", err)
	}

	if events.lastStatus != models.StatusBlocked {
		t.Errorf("expected status BLOCKED, got %s", events.lastStatus)
	}
	if len(dedupStore.marked) != 1 {
		t.Errorf("expected dedup mark, got %v", dedupStore.marked)
	}
	if o.GetStats()["blocked"] != int64(1) {
		t.Errorf("expected blocked counter to increment")
	}
}

func TestHandlePoisonRequeuesToDLQAndMarksStatus(t *testing.T) {
	event := &models.SmsEvent{ID: 5, Phone: "+15550000000", Body: "hi"}
	events := newFakeEventStore(event)
	pub := &fakePublisher{}
	o := testOrchestrator(events, &fakeAiCallStore{}, &fakeDedup{}, &fakeAdvisor{}, &fakeSink{}, pub)

	r := baseResolved(event)
	raw := []byte(`{"sms_event_id":5}`)
	if err := o.handlePoison(context.Background(), raw, r); err != nil {
		t.Fatalf("handlePoison returned error: %v", err)
	}

	if len(pub.dlqBodies) != 1 {
		t.Fatalf("expected one DLQ publish, got %d", len(pub.dlqBodies))
	}
	if events.lastStatus != models.StatusInDLQ {
		t.Errorf("expected status IN_DLQ, got %s", events.lastStatus)
	}
	if o.GetStats()["dlq"] != int64(1) {
		t.Errorf("expected dlq counter to increment")
	}
}

func TestHandleReviewRewriteRequeuesWithShortenedBody(t *testing.T) {
	event := &models.SmsEvent{ID: 6, Phone: "+15550000000", Body: "a very long message", SegmentCount: 3}
	events := newFakeEventStore(event)
	aiCalls := &fakeAiCallStore{}
	pub := &fakePublisher{}
	adv := &fakeAdvisor{decision: advisor.Decision{Decision: models.AdvisorDecisionRewrite, Reason: "too long", Body: "shortened"}}
	o := testOrchestrator(events, aiCalls, &fakeDedup{}, adv, &fakeSink{}, pub)

	r := baseResolved(event)
	payload := &models.QueuePayload{SmsEventID: event.ID, Body: event.Body, SegmentCount: event.SegmentCount}
	if err := o.handleReview(context.Background(), payload, r); err != nil {
		t.Fatalf("handleReview returned error: %v", err)
	}

	if aiCalls.calls != 1 || aiCalls.last.decision != models.AdvisorDecisionRewrite {
		t.Errorf("expected one REWRITE ai_call recorded, got %+v", aiCalls.last)
	}
	if events.rewrittenBody != "shortened" {
		t.Errorf("expected rewritten body persisted, got %q", events.rewrittenBody)
	}
	if events.segmentCount != 1 {
		t.Errorf("expected segment_count reset to 1, got %d", events.segmentCount)
	}
	if len(pub.mainBodies) != 1 {
		t.Fatalf("expected rewritten message requeued to MAIN, got %d", len(pub.mainBodies))
	}
	if events.lastStatus != models.StatusPending {
		t.Errorf("expected final status PENDING, got %s", events.lastStatus)
	}
}

func TestHandleReviewRateLimitedDropsWithoutConsultingFurther(t *testing.T) {
	event := &models.SmsEvent{ID: 7, Phone: "+15550000000", Body: "hi"}
	events := newFakeEventStore(event)
	adv := &fakeAdvisor{decision: advisor.Decision{RateLimited: true}}
	o := testOrchestrator(events, &fakeAiCallStore{}, &fakeDedup{}, adv, &fakeSink{}, &fakePublisher{})

	r := baseResolved(event)
	payload := &models.QueuePayload{SmsEventID: event.ID}
	if err := o.handleReview(context.Background(), payload, r); err != nil {
		t.Fatalf("handleReview returned error: %v", err)
	}

	if events.lastStatus != models.StatusBlocked {
		t.Errorf("expected rate-limited decision to fall through to DROP (BLOCKED), got %s", events.lastStatus)
	}
}

func TestHandleReviewNonRewriteDecisionDrops(t *testing.T) {
	event := &models.SmsEvent{ID: 8, Phone: "+15550000000", Body: "hi"}
	events := newFakeEventStore(event)
	adv := &fakeAdvisor{decision: advisor.Decision{Decision: models.AdvisorDecisionDrop, Reason: "low value"}}
	o := testOrchestrator(events, &fakeAiCallStore{}, &fakeDedup{}, adv, &fakeSink{}, &fakePublisher{})

	r := baseResolved(event)
	payload := &models.QueuePayload{SmsEventID: event.ID}
	if err := o.handleReview(context.Background(), payload, r); err != nil {
		t.Fatalf("handleReview returned error: %v", err)
	}

	if events.lastStatus != models.StatusBlocked {
		t.Errorf("expected DROP decision to end BLOCKED, got %s", events.lastStatus)
	}
}

func TestHandleReviewEmptyRewriteBodyDrops(t *testing.T) {
	event := &models.SmsEvent{ID: 9, Phone: "+15550000000", Body: "hi"}
	events := newFakeEventStore(event)
	adv := &fakeAdvisor{decision: advisor.Decision{Decision: models.AdvisorDecisionRewrite, Body: "   "}}
	pub := &fakePublisher{}
	o := testOrchestrator(events, &fakeAiCallStore{}, &fakeDedup{}, adv, &fakeSink{}, pub)

	r := baseResolved(event)
	payload := &models.QueuePayload{SmsEventID: event.ID}
	if err := o.handleReview(context.Background(), payload, r); err != nil {
		t.Fatalf("handleReview returned error: %v", err)
	}

	if events.lastStatus != models.StatusBlocked {
		t.Errorf("expected whitespace-only rewrite to fall back to DROP, got %s", events.lastStatus)
	}
	if len(pub.mainBodies) != 0 {
		t.Errorf("expected no MAIN requeue on empty rewrite, got %d", len(pub.mainBodies))
	}
}

func TestProcessMainRoutesThroughClassifyToSend(t *testing.T) {
	event := &models.SmsEvent{ID: 10, Phone: "+15550000000", Body: "hi"}
	events := newFakeEventStore(event)
	sink := &fakeSink{result: provider.SendResult{ProviderMessageID: "PMSG-10", ProviderStatus: 1}}
	o := New(events, &fakeAiCallStore{}, &fakeDedup{}, &fakeAdvisor{}, sink, &fakePublisher{}, Thresholds{
		Thresholds: rules.Thresholds{MaxRetryBeforeDLQ: 5, MultipartSegmentThreshold: 3, MaxBodyChars: 320},
	}, nil)

	raw := []byte(`{"sms_event_id":10,"phone":"+15550000000","body":"hi"}`)
	if err := o.ProcessMain(context.Background(), raw); err != nil {
		t.Fatalf("ProcessMain returned error: %v", err)
	}
	if events.lastStatus != models.StatusSent {
		t.Errorf("expected end-to-end SEND routing to result in SENT, got %s", events.lastStatus)
	}
}

func TestProcessMainRoutesThroughClassifyToPoisonOnMaxRetries(t *testing.T) {
	event := &models.SmsEvent{ID: 11, Phone: "+15550000000", Body: "hi", RetryCount: 5}
	events := newFakeEventStore(event)
	pub := &fakePublisher{}
	o := New(events, &fakeAiCallStore{}, &fakeDedup{}, &fakeAdvisor{}, &fakeSink{}, pub, Thresholds{
		Thresholds: rules.Thresholds{MaxRetryBeforeDLQ: 5, MultipartSegmentThreshold: 3, MaxBodyChars: 320},
	}, nil)

	raw := []byte(`{"sms_event_id":11,"retry_count":5}`)
	if err := o.ProcessMain(context.Background(), raw); err != nil {
		t.Fatalf("ProcessMain returned error: %v", err)
	}
	if events.lastStatus != models.StatusInDLQ {
		t.Errorf("expected retry_count>=max to route to POISON (IN_DLQ), got %s", events.lastStatus)
	}
	if len(pub.dlqBodies) != 1 {
		t.Errorf("expected poison path to publish to DLQ, got %d", len(pub.dlqBodies))
	}
}
