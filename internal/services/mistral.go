package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/socratica-backend/internal/logger"
)

// MistralClient is the single choke point for calls to the external
// completion API. Only rate limiting (429) is retried; every other non-2xx
// status fails immediately.
type MistralClient interface {
	Chat(ctx context.Context, system string, messages []ChatMessage, opts ChatOptions) (string, *ChatUsage, error)
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type mistralClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	maxRetries int
	baseDelay  time.Duration
}

func NewMistralClient(log *logger.Logger) (MistralClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("MISTRAL_API_KEY"))
	if apiKey == "" {
		return nil, Errorf(CodeNotConfigured, "missing MISTRAL_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("MISTRAL_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.mistral.ai"
	}
	model := strings.TrimSpace(os.Getenv("MISTRAL_MODEL"))
	if model == "" {
		model = "mistral-small-latest"
	}

	timeoutSec := 120
	if v := os.Getenv("MISTRAL_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &mistralClient{
		log:        log.With("service", "MistralClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: 2,
		baseDelay:  time.Second,
	}, nil
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *ChatUsage `json:"usage"`
}

func (c *mistralClient) Chat(ctx context.Context, system string, messages []ChatMessage, opts ChatOptions) (string, *ChatUsage, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	payload := chatCompletionRequest{
		Model:       model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Messages:    make([]ChatMessage, 0, len(messages)+1),
	}
	if system != "" {
		payload.Messages = append(payload.Messages, ChatMessage{Role: "system", Content: system})
	}
	payload.Messages = append(payload.Messages, messages...)

	raw, err := c.doWithRetry(ctx, payload)
	if err != nil {
		return "", nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", nil, Errorf(CodeBadModelJSON, "decode completion response: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		// Distinct from a transport failure: the API answered, the model said nothing.
		return "", resp.Usage, Errorf(CodeEmptyModelResponse, "model returned empty content")
	}
	return resp.Choices[0].Message.Content, resp.Usage, nil
}

func (c *mistralClient) doWithRetry(ctx context.Context, payload chatCompletionRequest) ([]byte, error) {
	delay := c.baseDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		status, raw, err := c.doOnce(ctx, payload)
		if err != nil {
			return nil, Errorf(CodeRequestFailed, "completion request: %w", err)
		}
		if status >= 200 && status < 300 {
			return raw, nil
		}
		if status != http.StatusTooManyRequests {
			return nil, Errorf(CodeRequestFailed, "completion http %d: %s", status, truncateBody(raw))
		}

		lastErr = Errorf(CodeRequestFailed, "completion rate limited (http 429)")
		if attempt == c.maxRetries {
			break
		}
		c.log.Warn("Completion request rate limited, retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", delay.String(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func (c *mistralClient) doOnce(ctx context.Context, payload chatCompletionRequest) (int, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.StatusCode, nil, readErr
	}
	return resp.StatusCode, raw, nil
}

func truncateBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}

// ExtractJSONPayload pulls a JSON object out of a model reply: a fenced
// ```json block if present, otherwise the outermost {...} span. Returns false
// when no candidate span exists.
func ExtractJSONPayload(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
