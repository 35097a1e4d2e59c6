package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yungbote/socratica-backend/internal/logger"
)

func newTestMistral(t *testing.T, baseURL string) *mistralClient {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return &mistralClient{
		log:        log.With("service", "MistralClient"),
		baseURL:    baseURL,
		apiKey:     "test-key",
		model:      "mistral-small-latest",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		maxRetries: 2,
		baseDelay:  time.Millisecond,
	}
}

const completionOK = `{"choices":[{"message":{"content":"Mitosis splits one cell into two."}}],"usage":{"prompt_tokens":12,"completion_tokens":9,"total_tokens":21}}`

func TestChatRetriesOnRateLimit(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionOK))
	}))
	defer srv.Close()

	client := newTestMistral(t, srv.URL)
	content, usage, err := client.Chat(context.Background(), "system", []ChatMessage{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err != nil {
		t.Fatalf("Chat after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (two 429s then success)", attempts)
	}
	if content != "Mitosis splits one cell into two." {
		t.Errorf("content = %q", content)
	}
	if usage == nil || usage.TotalTokens != 21 {
		t.Errorf("usage = %+v, want total 21", usage)
	}
}

func TestChatRateLimitExhausted(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestMistral(t, srv.URL)
	_, _, err := client.Chat(context.Background(), "", []ChatMessage{{Role: "user", Content: "hi"}}, ChatOptions{})
	if CodeOf(err) != CodeRequestFailed {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeRequestFailed)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}

func TestChatDoesNotRetryOtherStatuses(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestMistral(t, srv.URL)
	_, _, err := client.Chat(context.Background(), "", []ChatMessage{{Role: "user", Content: "hi"}}, ChatOptions{})
	if CodeOf(err) != CodeRequestFailed {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeRequestFailed)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (5xx is not retried)", attempts)
	}
}

func TestChatEmptyModelResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
	}))
	defer srv.Close()

	client := newTestMistral(t, srv.URL)
	_, _, err := client.Chat(context.Background(), "", []ChatMessage{{Role: "user", Content: "hi"}}, ChatOptions{})
	if CodeOf(err) != CodeEmptyModelResponse {
		t.Errorf("CodeOf = %q, want %q (empty content is not a transport failure)", CodeOf(err), CodeEmptyModelResponse)
	}
}

func TestNewMistralClientRequiresAPIKey(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "")
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	_, err = NewMistralClient(log)
	if CodeOf(err) != CodeNotConfigured {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeNotConfigured)
	}
}

func TestExtractJSONPayload(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{
			name:   "fenced json block",
			in:     "```json\n{\"a\":1}\n```",
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "bare fence",
			in:     "```\n{\"a\":1}\n```",
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "prose around braces",
			in:     `Sure! Here you go: {"a":1} hope that helps`,
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "no braces",
			in:     "no json here",
			wantOK: false,
		},
		{
			name:   "empty",
			in:     "",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONPayload(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("payload = %q, want %q", got, tt.want)
			}
		})
	}
}
