// Package worker implements the supervisor described in SPEC_FULL.md
// component C9: it starts the main and DLQ consumer loops, each with its
// own broker channel, and coordinates graceful shutdown.
package worker

import (
	"context"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/masoudkazak/ai-sms-guard/internal/pipeline"
	"github.com/masoudkazak/ai-sms-guard/internal/queue"
)

// Supervisor starts and stops the worker fleet's two consumer loops.
type Supervisor struct {
	broker       *queue.Broker
	orchestrator *pipeline.Orchestrator
	logger       *log.Logger

	wg sync.WaitGroup
}

// New builds a Supervisor.
func New(broker *queue.Broker, orchestrator *pipeline.Orchestrator, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(log.Writer(), "[worker] ", log.LstdFlags)
	}
	return &Supervisor{broker: broker, orchestrator: orchestrator, logger: logger}
}

// Start launches the main and DLQ consumer loops in their own goroutines.
// It returns immediately; call Wait (or block on ctx cancellation) to
// observe shutdown.
func (s *Supervisor) Start(ctx context.Context) error {
	mainCh, err := s.broker.Channel()
	if err != nil {
		return err
	}
	mainMsgs, err := s.broker.Consume(mainCh, s.broker.MainQueueName(), "worker-main")
	if err != nil {
		mainCh.Close()
		return err
	}

	dlqCh, err := s.broker.Channel()
	if err != nil {
		mainCh.Close()
		return err
	}
	dlqMsgs, err := s.broker.Consume(dlqCh, s.broker.DLQName(), "worker-dlq")
	if err != nil {
		mainCh.Close()
		dlqCh.Close()
		return err
	}

	s.wg.Add(2)
	go s.runMainLoop(ctx, mainCh, mainMsgs)
	go s.runDLQLoop(ctx, dlqCh, dlqMsgs)

	return nil
}

// Wait blocks until both consumer loops have exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) runMainLoop(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery) {
	defer s.wg.Done()
	defer ch.Close()
	s.logger.Println("main consumer started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("main consumer stopping")
			return
		case d, ok := <-msgs:
			if !ok {
				s.logger.Println("main consumer channel closed")
				return
			}
			s.handle(ctx, d, s.orchestrator.ProcessMain)
		}
	}
}

func (s *Supervisor) runDLQLoop(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery) {
	defer s.wg.Done()
	defer ch.Close()
	s.logger.Println("dlq consumer started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("dlq consumer stopping")
			return
		case d, ok := <-msgs:
			if !ok {
				s.logger.Println("dlq consumer channel closed")
				return
			}
			s.handle(ctx, d, s.orchestrator.ProcessDLQ)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, d amqp.Delivery, process func(context.Context, []byte) error) {
	if err := process(ctx, d.Body); err != nil {
		s.logger.Printf("processing error, nacking without requeue: %v", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// GetStats exposes the orchestrator's in-process counters.
func (s *Supervisor) GetStats() map[string]interface{} {
	return s.orchestrator.GetStats()
}
