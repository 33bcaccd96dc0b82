// Package advisor implements the bounded LLM consultation described in
// SPEC_FULL.md component C3: a rate-limited, JSON-robust client for an
// OpenRouter-compatible chat completions endpoint.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/masoudkazak/ai-sms-guard/internal/limiter"
)

const systemPrompt = `You are an SMS cost guard. Reply only with a single JSON object, no other text.
Output format: {"decision": "DROP"|"REWRITE", "reason": "short reason", "body": "optional rewritten body"}
- DROP: do not send, avoid cost (duplicate, low value, permanent failure).
- REWRITE: suggest a shortened body that fits in one segment.`

// Decision is the advisor's verdict on a REVIEW-routed message.
type Decision struct {
	Decision     string
	Reason       string
	Body         string
	InputTokens  int
	OutputTokens int
	RateLimited  bool
}

// Client consults the configured LLM endpoint, bounded by a daily call
// budget enforced through limiter.DailyLimiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	limiter    *limiter.DailyLimiter
	logger     *log.Logger
}

// Config bundles the advisor's construction parameters.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// New builds a Client. A Client with an empty APIKey still works: every
// Advise call short-circuits to a synthetic DROP without making a request,
// matching the original implementation's "AI not configured" behavior.
func New(cfg Config, dailyLimiter *limiter.DailyLimiter, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[advisor] ", log.LstdFlags)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		limiter:    dailyLimiter,
		logger:     logger,
	}
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat chatResponseFormat  `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Advise consults the advisor for a REVIEW-routed message, following the
// seven-step protocol from spec.md §4.3.
func (c *Client) Advise(ctx context.Context, messageID, phone, body string, retryCount int, lastDLR string, segmentCount int) Decision {
	if c.apiKey == "" {
		c.logger.Printf("advisor not configured; defaulting to DROP mid=%s", messageID)
		return Decision{Decision: "DROP", Reason: "AI not configured"}
	}

	result := c.limiter.Consume(ctx)
	if !result.Allowed {
		c.logger.Printf("advisor daily limit reached mid=%s used=%d", messageID, result.UsedToday)
		return Decision{Decision: "DROP", Reason: "AI daily usage limit reached", RateLimited: true}
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(messageID, phone, body, retryCount, lastDLR, segmentCount)},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    0,
		ResponseFormat: chatResponseFormat{Type: "json_object"},
	}

	decision, inputTokens, outputTokens, err := c.call(ctx, reqBody)
	if err != nil {
		c.logger.Printf("advisor request failed mid=%s: %v", messageID, err)
		return Decision{Decision: "DROP", Reason: fmt.Sprintf("AI error: %v", err)}
	}

	decision.InputTokens = inputTokens
	decision.OutputTokens = outputTokens
	return decision
}

func buildUserPrompt(messageID, phone, body string, retryCount int, lastDLR string, segmentCount int) string {
	if lastDLR == "" {
		lastDLR = "none"
	}
	truncatedBody := truncateRunes(body, 500)
	return fmt.Sprintf("message_id=%s phone=%s retry_count=%d last_dlr=%s segments=%d\nbody: %s",
		messageID, phone, retryCount, lastDLR, segmentCount, truncatedBody)
}

// truncateRunes cuts s to at most maxRunes Unicode code points, never
// splitting a multi-byte UTF-8 sequence in half.
func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

func (c *Client) call(ctx context.Context, reqBody chatRequest) (Decision, int, int, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Decision{}, 0, 0, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Decision{}, 0, 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, 0, 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Decision{}, 0, 0, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Decision{}, 0, 0, fmt.Errorf("decode response: %w", err)
	}

	inputTokens := parsed.Usage.PromptTokens
	outputTokens := parsed.Usage.CompletionTokens

	content := "{}"
	finishReason := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
		finishReason = parsed.Choices[0].FinishReason
	}

	decision := parseDecision(content)

	if finishReason == "length" && decision.Decision == "REWRITE" && strings.TrimSpace(decision.Body) == "" {
		decision = Decision{Decision: "DROP", Reason: "AI response truncated"}
	}

	return decision, inputTokens, outputTokens, nil
}
