package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/repos"
	"github.com/yungbote/socratica-backend/internal/requestdata"
	"github.com/yungbote/socratica-backend/internal/types"
)

const (
	maxPromptChars     = 2000
	transcriptWindow   = 40
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// PreparedTurn is everything a caller needs to invoke the model directly,
// typically so a streaming handler can forward tokens live between the
// prepare and finalize units of work.
type PreparedTurn struct {
	SessionID     uuid.UUID     `json:"session_id"`
	UserMessageID uuid.UUID     `json:"user_message_id"`
	System        string        `json:"system"`
	Messages      []ChatMessage `json:"messages"`
	Options       ChatOptions   `json:"options"`
}

// TurnResult is the authoritative outcome of a finalized turn.
type TurnResult struct {
	Session           *types.Session  `json:"session"`
	UserMessage       *types.Message  `json:"user_message"`
	AssistantMessage  *types.Message  `json:"assistant_message"`
	NewlyCoveredTerms []string        `json:"newly_covered_terms"`
	PhaseProgress     []PhaseProgress `json:"phase_progress"`
}

type IntroductionResult struct {
	AlreadyInitialized bool            `json:"already_initialized"`
	Session            *types.Session  `json:"session,omitempty"`
	AssistantMessage   *types.Message  `json:"assistant_message,omitempty"`
	PhaseProgress      []PhaseProgress `json:"phase_progress,omitempty"`
}

// TurnService coordinates one learning turn. Prepare and finalize are
// separate units of work so a streaming caller can sit between them; the
// combined RunSessionTurn path drives both through the same internal logic
// with an optional stream sink.
type TurnService interface {
	PrepareTurn(ctx context.Context, sessionID uuid.UUID, prompt string, followUpID *uuid.UUID, temperature *float64) (*PreparedTurn, error)
	FinalizeTurn(ctx context.Context, sessionID, userMessageID uuid.UUID, assistantBody string, usage *ChatUsage) (*TurnResult, error)
	RunSessionTurn(ctx context.Context, sessionID uuid.UUID, prompt string, followUpID *uuid.UUID, temperature *float64, sink func(delta string)) (*TurnResult, error)
	// IntroduceSession generates the opening assistant message from the plan
	// context alone. Idempotent: a session that already has messages reports
	// AlreadyInitialized and performs no writes.
	IntroduceSession(ctx context.Context, sessionID uuid.UUID) (*IntroductionResult, error)
}

type turnService struct {
	db  *gorm.DB
	log *logger.Logger

	userRepo     repos.UserRepo
	sessionRepo  repos.SessionRepo
	phaseRepo    repos.PhaseRepo
	termRepo     repos.TermRepo
	messageRepo  repos.MessageRepo
	followUpRepo repos.FollowUpRepo

	ai        MistralClient
	followUps FollowUpService
	notify    SessionNotifier
}

func NewTurnService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	sessionRepo repos.SessionRepo,
	phaseRepo repos.PhaseRepo,
	termRepo repos.TermRepo,
	messageRepo repos.MessageRepo,
	followUpRepo repos.FollowUpRepo,
	ai MistralClient,
	followUps FollowUpService,
	notify SessionNotifier,
) TurnService {
	return &turnService{
		db:           db,
		log:          baseLog.With("service", "TurnService"),
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		phaseRepo:    phaseRepo,
		termRepo:     termRepo,
		messageRepo:  messageRepo,
		followUpRepo: followUpRepo,
		ai:           ai,
		followUps:    followUps,
		notify:       notify,
	}
}

type sessionContext struct {
	session  *types.Session
	phases   []*types.Phase
	terms    []*types.Term
	messages []*types.Message
}

func (s *turnService) loadSessionContext(ctx context.Context, sessionID uuid.UUID) (*sessionContext, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, Errorf(CodeNotAuthenticated, "not authenticated")
	}
	users, err := s.userRepo.GetByIDs(ctx, nil, []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 || users[0] == nil {
		return nil, Errorf(CodeUserProfileMissing, "no user profile for authenticated subject")
	}

	session, err := loadOwnedSession(ctx, nil, s.sessionRepo, sessionID)
	if err != nil {
		return nil, err
	}

	sc := &sessionContext{session: session}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.phaseRepo.GetBySessionID(gctx, nil, sessionID)
		sc.phases = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.termRepo.GetBySessionID(gctx, nil, sessionID)
		sc.terms = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.messageRepo.ListRecentBySession(gctx, nil, sessionID, transcriptWindow)
		sc.messages = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *turnService) PrepareTurn(ctx context.Context, sessionID uuid.UUID, prompt string, followUpID *uuid.UUID, temperature *float64) (*PreparedTurn, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, Errorf(CodeEmptyMessage, "message is empty")
	}
	if utf8.RuneCountInString(prompt) > maxPromptChars {
		return nil, Errorf(CodeMessageTooLong, "message exceeds %d characters", maxPromptChars)
	}

	sc, err := s.loadSessionContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	userMsg := &types.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      types.MessageRoleUser,
		Body:      prompt,
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if followUpID != nil && *followUpID != uuid.Nil {
			rows, err := s.followUpRepo.GetByIDs(ctx, tx, []uuid.UUID{*followUpID})
			if err != nil {
				return err
			}
			if len(rows) == 0 || rows[0] == nil || rows[0].SessionID != sessionID {
				return Errorf(CodeFollowUpNotFound, "follow-up does not belong to this session")
			}
			if err := s.followUpRepo.MarkUsed(ctx, tx, *followUpID, now); err != nil {
				return err
			}
		}
		if _, err := s.messageRepo.Create(ctx, tx, []*types.Message{userMsg}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	progress := BuildPhaseProgress(sc.phases, sc.terms)
	planCtx := BuildPlanContext(sc.session, progress)

	messages := make([]ChatMessage, 0, len(sc.messages)+1)
	for _, m := range sc.messages {
		if m == nil {
			continue
		}
		messages = append(messages, ChatMessage{Role: m.Role, Content: m.Body})
	}
	messages = append(messages, ChatMessage{Role: types.MessageRoleUser, Content: prompt})

	temp := defaultTemperature
	if temperature != nil && *temperature >= 0 && *temperature <= 2 {
		temp = *temperature
	}

	return &PreparedTurn{
		SessionID:     sessionID,
		UserMessageID: userMsg.ID,
		System:        planCtx.GroundingMessage(),
		Messages:      messages,
		Options: ChatOptions{
			Temperature: temp,
			MaxTokens:   defaultMaxTokens,
		},
	}, nil
}

func (s *turnService) FinalizeTurn(ctx context.Context, sessionID, userMessageID uuid.UUID, assistantBody string, usage *ChatUsage) (*TurnResult, error) {
	assistantBody = strings.TrimSpace(assistantBody)
	if assistantBody == "" {
		return nil, Errorf(CodeEmptyMessage, "assistant reply is empty")
	}

	session, err := loadOwnedSession(ctx, nil, s.sessionRepo, sessionID)
	if err != nil {
		return nil, err
	}

	userMsgs, err := s.messageRepo.GetByIDs(ctx, nil, []uuid.UUID{userMessageID})
	if err != nil {
		return nil, err
	}
	if len(userMsgs) == 0 || userMsgs[0] == nil || userMsgs[0].SessionID != sessionID {
		return nil, Errorf(CodeInternal, "user message %s not found for session", userMessageID)
	}
	userMsg := userMsgs[0]

	assistantMsg, newlyCovered, progress, err := s.persistAssistantTurn(ctx, session, assistantBody, usage)
	if err != nil {
		return nil, err
	}

	// Reload the patched session so callers see the updated counters.
	sessions, err := s.sessionRepo.GetByIDs(ctx, nil, []uuid.UUID{sessionID})
	if err == nil && len(sessions) > 0 && sessions[0] != nil {
		session = sessions[0]
	}

	s.afterAssistantTurn(ctx, session, assistantMsg, newlyCovered, progress)

	return &TurnResult{
		Session:           session,
		UserMessage:       userMsg,
		AssistantMessage:  assistantMsg,
		NewlyCoveredTerms: newlyCovered,
		PhaseProgress:     progress,
	}, nil
}

// persistAssistantTurn is the shared finalize core: detect coverage, persist
// the assistant message, recompute progress and patch the session counters,
// all in one transaction.
func (s *turnService) persistAssistantTurn(ctx context.Context, session *types.Session, body string, usage *ChatUsage) (*types.Message, []string, []PhaseProgress, error) {
	now := time.Now().UTC()

	terms, err := s.termRepo.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	candidates := make([]string, 0, len(terms))
	for _, t := range terms {
		candidates = append(candidates, t.Term)
	}
	matched := DetectCoveredTerms(body, candidates)
	matchedSet := make(map[string]bool, len(matched))
	for _, m := range matched {
		matchedSet[m] = true
	}

	var newlyCovered []string
	assistantMsg := &types.Message{
		ID:            uuid.New(),
		SessionID:     session.ID,
		Role:          types.MessageRoleAssistant,
		Body:          body,
		DetectedTerms: datatypes.JSON([]byte(mustJSON(matched))),
		CreatedAt:     now,
	}
	if usage != nil {
		assistantMsg.PromptTokens = usage.PromptTokens
		assistantMsg.CompletionTokens = usage.CompletionTokens
		assistantMsg.TotalTokens = usage.TotalTokens
	}

	var progress []PhaseProgress
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range terms {
			if t == nil || !matchedSet[t.Term] {
				continue
			}
			if t.FirstCoveredAt == nil {
				newlyCovered = append(newlyCovered, t.Term)
				t.FirstCoveredAt = &now
			}
			t.ExposureCount++
			if err := s.termRepo.MarkCovered(ctx, tx, t.ID, now); err != nil {
				return err
			}
		}

		if _, err := s.messageRepo.Create(ctx, tx, []*types.Message{assistantMsg}); err != nil {
			return err
		}

		phases, err := s.phaseRepo.GetBySessionID(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		progress = BuildPhaseProgress(phases, terms)
		agg := AggregateSession(progress)

		for _, p := range phases {
			if p == nil || p.CompletedAt != nil {
				continue
			}
			for _, pp := range progress {
				if pp.PhaseIndex == p.PhaseIndex && pp.IsComplete {
					if err := s.phaseRepo.UpdateFields(ctx, tx, p.ID, map[string]any{
						"completed_at": now,
						"updated_at":   now,
					}); err != nil {
						return err
					}
				}
			}
		}

		return s.sessionRepo.UpdateFields(ctx, tx, session.ID, map[string]any{
			"completed_phases":    agg.CompletedPhases,
			"completed_terms":     agg.CompletedTerms,
			"current_phase_index": agg.CurrentPhaseIndex,
			"updated_at":          now,
		})
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return assistantMsg, newlyCovered, progress, nil
}

// afterAssistantTurn hands off the work that must never fail the turn:
// detached follow-up regeneration and realtime progress fan-out.
func (s *turnService) afterAssistantTurn(ctx context.Context, session *types.Session, assistantMsg *types.Message, newlyCovered []string, progress []PhaseProgress) {
	if s.followUps != nil {
		s.followUps.Enqueue(session.ID, assistantMsg.ID)
	}
	if s.notify != nil {
		s.notify.ProgressUpdated(session.UserID, session, newlyCovered, progress)
	}
}

func (s *turnService) RunSessionTurn(ctx context.Context, sessionID uuid.UUID, prompt string, followUpID *uuid.UUID, temperature *float64, sink func(delta string)) (*TurnResult, error) {
	prepared, err := s.PrepareTurn(ctx, sessionID, prompt, followUpID, temperature)
	if err != nil {
		return nil, err
	}

	content, usage, err := s.ai.Chat(ctx, prepared.System, prepared.Messages, prepared.Options)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		sink(content)
	}

	return s.FinalizeTurn(ctx, sessionID, prepared.UserMessageID, content, usage)
}

func (s *turnService) IntroduceSession(ctx context.Context, sessionID uuid.UUID) (*IntroductionResult, error) {
	sc, err := s.loadSessionContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	count, err := s.messageRepo.CountBySession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return &IntroductionResult{AlreadyInitialized: true}, nil
	}

	progress := BuildPhaseProgress(sc.phases, sc.terms)
	planCtx := BuildPlanContext(sc.session, progress)

	intro := ChatMessage{
		Role: types.MessageRoleUser,
		Content: "Open the session: welcome the learner to the topic, sketch where the plan will take them, " +
			"and invite their first question. Two short paragraphs at most.",
	}
	content, usage, err := s.ai.Chat(ctx, planCtx.GroundingMessage(), []ChatMessage{intro}, ChatOptions{
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Errorf(CodeEmptyModelResponse, "model returned empty welcome")
	}

	assistantMsg, newlyCovered, progress, err := s.persistAssistantTurn(ctx, sc.session, content, usage)
	if err != nil {
		return nil, err
	}
	s.afterAssistantTurn(ctx, sc.session, assistantMsg, newlyCovered, progress)

	return &IntroductionResult{
		Session:          sc.session,
		AssistantMessage: assistantMsg,
		PhaseProgress:    progress,
	}, nil
}
