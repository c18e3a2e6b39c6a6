package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/japaniel/sragetl/pkg/config"
	"github.com/japaniel/sragetl/pkg/logging"
)

// ErrMisconfigured is returned when the endpoint, model or API key is missing.
var ErrMisconfigured = errors.New("chat client misconfigured")

// APIError is a non-2xx response of the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat completion error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible chat completion API.
type Client struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	maxRetries   int
	backoff      time.Duration
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
	logger       *slog.Logger
}

// BreakerThreshold is the number of consecutive failed completions that opens
// the circuit. While open, Complete fails fast with gobreaker.ErrOpenState.
const BreakerThreshold = 5

// NewClient builds a client from configuration.
func NewClient(cfg config.ChatConfig, logger *slog.Logger) *Client {
	return &Client{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		maxRetries:   cfg.MaxRetries,
		backoff:      500 * time.Millisecond,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "chat-completion",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= BreakerThreshold
			},
		}),
		logger: logging.OrDiscard(logger),
	}
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the system prompt followed by msgs and returns the first
// choice. Rate limits and server errors are retried up to the configured
// number of times with a doubling delay.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	if c == nil {
		return "", fmt.Errorf("chat client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", ErrMisconfigured
	}
	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: append([]Message{{Role: "system", Content: safePrompt(c.systemPrompt)}}, msgs...),
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	delay := c.backoff
	for attempt := 0; ; attempt++ {
		out, err := c.breaker.Execute(func() (interface{}, error) { return c.post(ctx, body) })
		if err == nil {
			return out.(string), nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() || attempt >= c.maxRetries {
			return "", err
		}
		c.logger.Warn("retrying chat completion", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "Você é um assistente de vigilância epidemiológica. Responda em português usando apenas o contexto fornecido sobre dados de SRAG do DATASUS."
	}
	return prompt
}
