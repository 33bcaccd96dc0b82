// SMS cost-guard worker fleet.
//
// Consumes sms_event payloads from a durable RabbitMQ queue, classifies
// them against policy rules, routes borderline cases through a
// rate-limited LLM advisor, and dispatches to an SMS provider, blocks,
// rewrites, or quarantines each message.
//
// Usage:
//
//	worker -validate
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/masoudkazak/ai-sms-guard/config"
	"github.com/masoudkazak/ai-sms-guard/internal/advisor"
	"github.com/masoudkazak/ai-sms-guard/internal/database"
	"github.com/masoudkazak/ai-sms-guard/internal/dedup"
	"github.com/masoudkazak/ai-sms-guard/internal/limiter"
	"github.com/masoudkazak/ai-sms-guard/internal/pipeline"
	"github.com/masoudkazak/ai-sms-guard/internal/provider"
	"github.com/masoudkazak/ai-sms-guard/internal/queue"
	"github.com/masoudkazak/ai-sms-guard/internal/repository"
	"github.com/masoudkazak/ai-sms-guard/internal/rules"
	"github.com/masoudkazak/ai-sms-guard/internal/worker"
)

const version = "1.0.0"

func main() {
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ai-sms-guard worker v%s\n", version)
		os.Exit(0)
	}

	logger := log.New(os.Stdout, "[Worker] ", log.LstdFlags|log.Lmsgprefix)
	logger.Printf("ai-sms-guard worker v%s starting...", version)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	logger.Printf("rabbitmq main=%s dlq=%s", cfg.RabbitMQMainQueue, cfg.RabbitMQDLQ)

	if *validateOnly {
		logger.Println("configuration validated successfully")
		os.Exit(0)
	}

	db, err := database.Open(database.DriverPostgres, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatalf("failed to parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	broker, err := queue.Dial(cfg.RabbitMQURL, cfg.RabbitMQMainQueue, cfg.RabbitMQDLQ, logger)
	if err != nil {
		logger.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer broker.Close()

	eventRepo := repository.NewEventRepository(db)
	aiCallRepo := repository.NewAiCallRepository(db)
	dedupStore := dedup.NewStore(redisClient, logger)
	dailyLimiter := limiter.New(redisClient, "ai:calls", cfg.AIDailyCallLimit, cfg.LimiterTimezone, logger)
	advisorClient := advisor.New(advisor.Config{
		BaseURL:   cfg.OpenRouterBaseURL,
		APIKey:    cfg.OpenRouterAPIKey,
		Model:     cfg.OpenRouterModel,
		Timeout:   cfg.OpenRouterTimeout,
		MaxTokens: cfg.AIGuardMaxTokens,
	}, dailyLimiter, logger)

	sink := provider.NewMockSink(cfg.MockDLROverride, cfg.MockTimeoutRetryProb, logger)

	dlqPolicy, err := worker.LoadDLQPolicy(cfg.DLQPolicyFile)
	if err != nil {
		logger.Fatalf("failed to load dlq policy: %v", err)
	}
	if dlqPolicy == pipeline.ConsultAdvisor {
		logger.Println("dlq policy: consult_advisor (not implemented, DLQ consumer will nack these messages)")
	}

	thresholds := pipeline.Thresholds{
		Thresholds: rules.Thresholds{
			MaxRetryBeforeDLQ:         cfg.MaxRetryBeforeDLQ,
			MultipartSegmentThreshold: cfg.MultipartSegmentThreshold,
			MaxBodyChars:              cfg.MaxBodyChars,
		},
		DuplicateWindowSeconds: cfg.DuplicateWindowSeconds,
		MockTimeoutRetryProb:   cfg.MockTimeoutRetryProb,
		AdvisorModel:           cfg.OpenRouterModel,
		DLQPolicy:              dlqPolicy,
	}

	orchestrator := pipeline.New(eventRepo, aiCallRepo, dedupStore, advisorClient, sink, broker, thresholds, logger)
	supervisor := worker.New(broker, orchestrator, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := supervisor.Start(ctx); err != nil {
		logger.Fatalf("failed to start supervisor: %v", err)
	}

	logger.Println("worker fleet started")
	logger.Println("press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Println("shutting down...")
	cancel()
	supervisor.Wait()

	stats := supervisor.GetStats()
	logger.Printf("final stats: %+v", stats)
	logger.Println("worker fleet stopped gracefully")
}
