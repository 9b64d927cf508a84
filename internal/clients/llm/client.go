// Package llm is the chat-completions client for the OpenAI-compatible
// providers the content generator can be pointed at.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/inksight/inksight-backend/internal/httpx"
	"github.com/inksight/inksight-backend/internal/logger"
)

type providerConfig struct {
	baseURL string
	envKey  string
}

var providers = map[string]providerConfig{
	"deepseek": {baseURL: "https://api.deepseek.com/v1", envKey: "DEEPSEEK_API_KEY"},
	"aliyun":   {baseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", envKey: "DASHSCOPE_API_KEY"},
	"moonshot": {baseURL: "https://api.moonshot.cn/v1", envKey: "MOONSHOT_API_KEY"},
}

const defaultMaxTokens = 1024

// Client generates one completion per call. Implementations retry
// transient transport failures internally.
type Client interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Factory hands out clients keyed by provider/model so per-device
// configuration can switch backends without re-reading the environment.
type Factory struct {
	log *logger.Logger

	mu      sync.Mutex
	clients map[string]Client
}

func NewFactory(log *logger.Logger) *Factory {
	return &Factory{
		log:     log.With("service", "LLMFactory"),
		clients: make(map[string]Client),
	}
}

func (f *Factory) Client(provider, model string) (Client, error) {
	key := provider + "/" + model
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	c, err := NewClient(f.log, provider, model)
	if err != nil {
		return nil, err
	}
	f.clients[key] = c
	return c, nil
}

type client struct {
	log        *logger.Logger
	provider   string
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger, provider, model string) (Client, error) {
	cfg, ok := providers[provider]
	if !ok {
		cfg = providers["deepseek"]
		provider = "deepseek"
	}
	apiKey := strings.TrimSpace(os.Getenv(cfg.envKey))
	if apiKey == "" || strings.HasPrefix(apiKey, "sk-your-") {
		return nil, fmt.Errorf("missing or placeholder API key for %s: set %s", provider, cfg.envKey)
	}
	return &client{
		log:        log.With("service", "LLMClient", "provider", provider, "model", model),
		provider:   provider,
		model:      model,
		baseURL:    cfg.baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxRetries: 2,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

func (c *client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   defaultMaxTokens,
		Temperature: temperature,
	}

	var out chatResponse
	if err := c.do(ctx, "/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm response has no choices")
	}
	choice := out.Choices[0]
	c.log.Info("Completion finished",
		"tokens", out.Usage.TotalTokens, "finish", choice.FinishReason)
	if choice.FinishReason == "length" {
		c.log.Warn("Completion truncated by max_tokens")
	}
	return strings.TrimSpace(choice.Message.Content), nil
}

func (c *client) do(ctx context.Context, path string, body, out any) error {
	backoff := 2 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("llm decode error: %w", uErr)
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.Jitter(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("LLM request retrying",
			"attempt", attempt+1, "max_retries", c.maxRetries,
			"sleep", sleepFor.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
