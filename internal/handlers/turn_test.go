package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/services"
)

type stubTurnService struct {
	prepared      *services.PreparedTurn
	prepareErr    error
	result        *services.TurnResult
	finalizeErr   error
	finalizedBody string
}

func (s *stubTurnService) PrepareTurn(ctx context.Context, sessionID uuid.UUID, prompt string, followUpID *uuid.UUID, temperature *float64) (*services.PreparedTurn, error) {
	if s.prepareErr != nil {
		return nil, s.prepareErr
	}
	return s.prepared, nil
}

func (s *stubTurnService) FinalizeTurn(ctx context.Context, sessionID, userMessageID uuid.UUID, assistantBody string, usage *services.ChatUsage) (*services.TurnResult, error) {
	s.finalizedBody = assistantBody
	if s.finalizeErr != nil {
		return nil, s.finalizeErr
	}
	return s.result, nil
}

func (s *stubTurnService) RunSessionTurn(ctx context.Context, sessionID uuid.UUID, prompt string, followUpID *uuid.UUID, temperature *float64, sink func(delta string)) (*services.TurnResult, error) {
	return s.result, nil
}

func (s *stubTurnService) IntroduceSession(ctx context.Context, sessionID uuid.UUID) (*services.IntroductionResult, error) {
	return &services.IntroductionResult{AlreadyInitialized: true}, nil
}

type stubChat struct {
	reply string
	err   error
}

func (a *stubChat) Chat(ctx context.Context, system string, messages []services.ChatMessage, opts services.ChatOptions) (string, *services.ChatUsage, error) {
	if a.err != nil {
		return "", nil, a.err
	}
	return a.reply, &services.ChatUsage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12}, nil
}

type sseFrame struct {
	event string
	data  string
}

func parseSSEFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if f.event == "" && f.data == "" {
			continue
		}
		frames = append(frames, f)
	}
	return frames
}

func streamTurn(t *testing.T, ts services.TurnService, ai services.MistralClient) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	router := gin.New()
	handler := NewTurnHandler(log, ts, ai)
	router.POST("/sessions/:id/turns/stream", handler.StreamTurn)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+uuid.New().String()+"/turns/stream", strings.NewReader(`{"message":"tell me about mitosis"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func preparedFixture() *services.PreparedTurn {
	return &services.PreparedTurn{
		SessionID:     uuid.New(),
		UserMessageID: uuid.New(),
		System:        "plan context",
		Messages:      []services.ChatMessage{{Role: "user", Content: "tell me about mitosis"}},
		Options:       services.ChatOptions{Temperature: 0.7, MaxTokens: 1024},
	}
}

func TestStreamTurnFrameSequence(t *testing.T) {
	ts := &stubTurnService{
		prepared: preparedFixture(),
		result:   &services.TurnResult{NewlyCoveredTerms: []string{"mitosis"}},
	}
	ai := &stubChat{reply: "Mitosis divides the nucleus."}

	rec := streamTurn(t, ts, ai)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	frames := parseSSEFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %+v", len(frames), frames)
	}
	for i, want := range []string{"prepared", "delta", "final"} {
		if frames[i].event != want {
			t.Errorf("frame %d event = %q, want %q", i, frames[i].event, want)
		}
	}

	var delta struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(frames[1].data), &delta); err != nil {
		t.Fatalf("delta frame did not parse: %v", err)
	}
	if delta.Token != ai.reply {
		t.Errorf("delta token = %q, want %q", delta.Token, ai.reply)
	}

	var final struct {
		Result *services.TurnResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(frames[2].data), &final); err != nil {
		t.Fatalf("final frame did not parse: %v", err)
	}
	if final.Result == nil || len(final.Result.NewlyCoveredTerms) != 1 || final.Result.NewlyCoveredTerms[0] != "mitosis" {
		t.Errorf("final result = %+v, want newly covered [mitosis]", final.Result)
	}

	if ts.finalizedBody != ai.reply {
		t.Errorf("finalized body = %q, want %q", ts.finalizedBody, ai.reply)
	}
}

func TestStreamTurnModelFailure(t *testing.T) {
	ts := &stubTurnService{prepared: preparedFixture()}
	ai := &stubChat{err: services.Errorf(services.CodeRequestFailed, "mistral request failed")}

	rec := streamTurn(t, ts, ai)
	frames := parseSSEFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want prepared then error: %+v", len(frames), frames)
	}
	if frames[0].event != "prepared" || frames[1].event != "error" {
		t.Fatalf("frame events = [%q, %q], want [prepared, error]", frames[0].event, frames[1].event)
	}

	var apiErr APIError
	if err := json.Unmarshal([]byte(frames[1].data), &apiErr); err != nil {
		t.Fatalf("error frame did not parse: %v", err)
	}
	if apiErr.Code != services.CodeRequestFailed {
		t.Errorf("error code = %q, want %q", apiErr.Code, services.CodeRequestFailed)
	}
	if ts.finalizedBody != "" {
		t.Errorf("finalize ran after model failure with body %q", ts.finalizedBody)
	}
}

func TestStreamTurnFinalizeFailure(t *testing.T) {
	ts := &stubTurnService{
		prepared:    preparedFixture(),
		finalizeErr: services.Errorf(services.CodeInternal, "session vanished mid-turn"),
	}
	ai := &stubChat{reply: "Mitosis divides the nucleus."}

	rec := streamTurn(t, ts, ai)
	frames := parseSSEFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want prepared, delta, error: %+v", len(frames), frames)
	}
	if frames[2].event != "error" {
		t.Fatalf("terminal frame event = %q, want error", frames[2].event)
	}

	var apiErr APIError
	if err := json.Unmarshal([]byte(frames[2].data), &apiErr); err != nil {
		t.Fatalf("error frame did not parse: %v", err)
	}
	if apiErr.Code != services.CodeInternal {
		t.Errorf("error code = %q, want %q", apiErr.Code, services.CodeInternal)
	}
}
