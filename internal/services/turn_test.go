package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/socratica-backend/internal/requestdata"
	"github.com/yungbote/socratica-backend/internal/types"
)

func TestAcceptPlanCreatesSessionState(t *testing.T) {
	env := newTestEnv(t)
	session, progress, err := env.sessions.AcceptPlan(env.ctx, cellBiologyPlan())
	if err != nil {
		t.Fatalf("AcceptPlan: %v", err)
	}
	if session.TotalPhases != 2 || session.TotalTerms != 3 {
		t.Errorf("session totals = %d phases / %d terms, want 2/3", session.TotalPhases, session.TotalTerms)
	}
	if session.CurrentPhaseIndex == nil || *session.CurrentPhaseIndex != 0 {
		t.Errorf("current phase = %v, want 0", session.CurrentPhaseIndex)
	}
	if len(progress) != 2 {
		t.Fatalf("progress has %d phases, want 2", len(progress))
	}
	if progress[0].IsComplete || progress[1].IsComplete {
		t.Errorf("new plan must start with no completed phases")
	}
}

func TestAcceptPlanValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		mutate func(p *PlanInput)
	}{
		{name: "missing topic", mutate: func(p *PlanInput) { p.Topic = "  " }},
		{name: "no phases", mutate: func(p *PlanInput) { p.Phases = nil }},
		{name: "phase missing name", mutate: func(p *PlanInput) { p.Phases[0].Name = "" }},
		{name: "phase with only blank terms", mutate: func(p *PlanInput) { p.Phases[1].KeyTerms = []string{"  ", ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := cellBiologyPlan()
			tt.mutate(&plan)
			_, _, err := env.sessions.AcceptPlan(env.ctx, plan)
			if CodeOf(err) != CodeInvalidPlan {
				t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeInvalidPlan)
			}
		})
	}
}

func TestRunSessionTurnMarksCoverage(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)

	env.ai.replies = []string{"Mitosis ends with cytokinesis, which pinches the cell in two."}

	var streamed string
	result, err := env.turns.RunSessionTurn(env.ctx, session.ID, "How does a cell actually split?", nil, nil, func(delta string) {
		streamed += delta
	})
	if err != nil {
		t.Fatalf("RunSessionTurn: %v", err)
	}

	if streamed == "" || streamed != result.AssistantMessage.Body {
		t.Errorf("sink received %q, want assistant body %q", streamed, result.AssistantMessage.Body)
	}
	if len(result.NewlyCoveredTerms) != 2 {
		t.Fatalf("newly covered = %v, want mitosis and cytokinesis", result.NewlyCoveredTerms)
	}

	if result.Session.CompletedTerms != 2 || result.Session.CompletedPhases != 1 {
		t.Errorf("session counters = %d terms / %d phases, want 2/1", result.Session.CompletedTerms, result.Session.CompletedPhases)
	}
	if result.Session.CurrentPhaseIndex == nil || *result.Session.CurrentPhaseIndex != 1 {
		t.Errorf("current phase = %v, want 1 after completing phase 0", result.Session.CurrentPhaseIndex)
	}

	phases, err := env.phaseRepo.GetBySessionID(context.Background(), nil, session.ID)
	if err != nil {
		t.Fatalf("load phases: %v", err)
	}
	if phases[0].CompletedAt == nil {
		t.Errorf("completed phase 0 should carry completed_at")
	}
	if phases[1].CompletedAt != nil {
		t.Errorf("phase 1 must not be marked complete")
	}

	if result.UserMessage.Role != types.MessageRoleUser || result.AssistantMessage.Role != types.MessageRoleAssistant {
		t.Errorf("message roles = %q/%q", result.UserMessage.Role, result.AssistantMessage.Role)
	}
	if result.AssistantMessage.TotalTokens != 30 {
		t.Errorf("assistant usage total = %d, want 30", result.AssistantMessage.TotalTokens)
	}
}

func TestCoverageIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)

	env.ai.replies = []string{"Mitosis is the headline act."}
	first, err := env.turns.RunSessionTurn(env.ctx, session.ID, "What is mitosis?", nil, nil, nil)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if len(first.NewlyCoveredTerms) != 1 || first.NewlyCoveredTerms[0] != "mitosis" {
		t.Fatalf("first turn newly covered = %v", first.NewlyCoveredTerms)
	}
	firstCovered := env.termByName(t, session.ID, "mitosis").FirstCoveredAt
	if firstCovered == nil {
		t.Fatal("mitosis should be covered after the first turn")
	}

	env.ai.replies = []string{"Mitosis again, with feeling."}
	second, err := env.turns.RunSessionTurn(env.ctx, session.ID, "Say it again?", nil, nil, nil)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(second.NewlyCoveredTerms) != 0 {
		t.Errorf("second mention must not re-cover: %v", second.NewlyCoveredTerms)
	}

	term := env.termByName(t, session.ID, "mitosis")
	if term.FirstCoveredAt == nil || !term.FirstCoveredAt.Equal(*firstCovered) {
		t.Errorf("first_covered_at changed on repeat exposure: %v vs %v", term.FirstCoveredAt, firstCovered)
	}
	if term.ExposureCount != 2 {
		t.Errorf("exposure_count = %d, want 2", term.ExposureCount)
	}
}

func TestTurnInputValidation(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)

	if _, err := env.turns.RunSessionTurn(env.ctx, session.ID, "   ", nil, nil, nil); CodeOf(err) != CodeEmptyMessage {
		t.Errorf("blank prompt: CodeOf = %q, want %q", CodeOf(err), CodeEmptyMessage)
	}

	long := strings.Repeat("x", maxPromptChars+1)
	if _, err := env.turns.RunSessionTurn(env.ctx, session.ID, long, nil, nil, nil); CodeOf(err) != CodeMessageTooLong {
		t.Errorf("oversized prompt: CodeOf = %q, want %q", CodeOf(err), CodeMessageTooLong)
	}

	// The limit counts characters, not bytes.
	env.ai.replies = []string{"Let's keep going."}
	multibyte := strings.Repeat("é", maxPromptChars)
	if _, err := env.turns.RunSessionTurn(env.ctx, session.ID, multibyte, nil, nil, nil); err != nil {
		t.Errorf("multibyte prompt at the limit rejected: %v", err)
	}

	tooLong := strings.Repeat("é", maxPromptChars+1)
	if _, err := env.turns.RunSessionTurn(env.ctx, session.ID, tooLong, nil, nil, nil); CodeOf(err) != CodeMessageTooLong {
		t.Errorf("multibyte oversized prompt: CodeOf = %q, want %q", CodeOf(err), CodeMessageTooLong)
	}
}

func TestTurnConsumesFollowUp(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)
	msg := seedAssistantMessage(t, env, session.ID)

	fu := &types.FollowUp{
		ID:        uuid.New(),
		SessionID: session.ID,
		MessageID: msg.ID,
		Prompt:    "Can we explore \"centromere\" next?",
		CreatedAt: time.Now().UTC(),
	}
	if _, err := env.followUpRepo.Create(context.Background(), nil, []*types.FollowUp{fu}); err != nil {
		t.Fatalf("seed follow-up: %v", err)
	}

	env.ai.replies = []string{"The centromere holds sister chromatids together."}
	if _, err := env.turns.RunSessionTurn(env.ctx, session.ID, fu.Prompt, &fu.ID, nil, nil); err != nil {
		t.Fatalf("RunSessionTurn with follow-up: %v", err)
	}

	rows, err := env.followUpRepo.GetByIDs(context.Background(), nil, []uuid.UUID{fu.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("reload follow-up: %v", err)
	}
	if rows[0].UsedAt == nil {
		t.Errorf("consumed follow-up should carry used_at")
	}
}

func TestTurnRejectsForeignFollowUp(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)

	other, _, err := env.sessions.AcceptPlan(env.ctx, cellBiologyPlan())
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	otherMsg := seedAssistantMessage(t, env, other.ID)
	foreign := &types.FollowUp{
		ID:        uuid.New(),
		SessionID: other.ID,
		MessageID: otherMsg.ID,
		Prompt:    "belongs elsewhere?",
		CreatedAt: time.Now().UTC(),
	}
	if _, err := env.followUpRepo.Create(context.Background(), nil, []*types.FollowUp{foreign}); err != nil {
		t.Fatalf("seed foreign follow-up: %v", err)
	}

	env.ai.replies = []string{"irrelevant"}
	_, err = env.turns.RunSessionTurn(env.ctx, session.ID, "hello", &foreign.ID, nil, nil)
	if CodeOf(err) != CodeFollowUpNotFound {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeFollowUpNotFound)
	}
}

func TestIntroduceSessionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)

	env.ai.replies = []string{"Welcome! We'll walk through cell division together."}
	first, err := env.turns.IntroduceSession(env.ctx, session.ID)
	if err != nil {
		t.Fatalf("first introduction: %v", err)
	}
	if first.AlreadyInitialized {
		t.Fatal("fresh session reported AlreadyInitialized")
	}
	if first.AssistantMessage == nil || first.AssistantMessage.Role != types.MessageRoleAssistant {
		t.Fatalf("introduction message = %+v", first.AssistantMessage)
	}
	if !strings.Contains(env.ai.lastSystem, "Cell division") {
		t.Errorf("grounding message should carry the topic, got %q", env.ai.lastSystem)
	}

	countAfterFirst, err := env.messageRepo.CountBySession(context.Background(), nil, session.ID)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}

	second, err := env.turns.IntroduceSession(env.ctx, session.ID)
	if err != nil {
		t.Fatalf("second introduction: %v", err)
	}
	if !second.AlreadyInitialized {
		t.Error("repeat introduction should report AlreadyInitialized")
	}
	countAfterSecond, err := env.messageRepo.CountBySession(context.Background(), nil, session.ID)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if countAfterFirst != countAfterSecond {
		t.Errorf("repeat introduction wrote messages: %d -> %d", countAfterFirst, countAfterSecond)
	}
}

func TestSessionOwnershipIsolation(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)

	now := time.Now().UTC()
	stranger := &types.User{
		ID:        uuid.New(),
		Email:     "stranger@example.com",
		Password:  "irrelevant",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := env.userRepo.Create(context.Background(), nil, []*types.User{stranger}); err != nil {
		t.Fatalf("seed stranger: %v", err)
	}
	strangerCtx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: stranger.ID})

	if _, err := env.sessions.GetSession(strangerCtx, session.ID); CodeOf(err) != CodeSessionNotFound {
		t.Errorf("GetSession: CodeOf = %q, want %q (not-owned reads as not-found)", CodeOf(err), CodeSessionNotFound)
	}
	env.ai.replies = []string{"should never run"}
	if _, err := env.turns.RunSessionTurn(strangerCtx, session.ID, "let me in", nil, nil, nil); CodeOf(err) != CodeSessionNotFound {
		t.Errorf("RunSessionTurn: CodeOf = %q, want %q", CodeOf(err), CodeSessionNotFound)
	}
}

func TestTurnRequiresAuthenticatedProfile(t *testing.T) {
	env := newTestEnv(t)
	session := env.acceptPlan(t)

	if _, err := env.turns.RunSessionTurn(context.Background(), session.ID, "hi", nil, nil, nil); CodeOf(err) != CodeNotAuthenticated {
		t.Errorf("no request data: CodeOf = %q, want %q", CodeOf(err), CodeNotAuthenticated)
	}

	ghostCtx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: uuid.New()})
	if _, err := env.turns.RunSessionTurn(ghostCtx, session.ID, "hi", nil, nil, nil); CodeOf(err) != CodeUserProfileMissing {
		t.Errorf("unknown subject: CodeOf = %q, want %q", CodeOf(err), CodeUserProfileMissing)
	}
}
