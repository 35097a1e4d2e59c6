package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/repos"
	"github.com/yungbote/socratica-backend/internal/types"
)

const (
	followUpBatchSize = 3
	// Courtesy pause before the extra model round trip: lets the assistant
	// message settle in the UI and spaces out API calls.
	followUpDefaultDelay = time.Second
)

// FollowUpService regenerates the suggestion batch after an assistant turn.
// Refresh runs on a detached in-process worker rather than inline in turn
// finalization, so turn latency is not coupled to a second model round trip;
// the client learns about the new batch over SSE (or by re-querying).
//
// Refresh can never fail a turn: model and parse errors degrade to the
// deterministic backfill.
type FollowUpService interface {
	StartWorker(ctx context.Context)
	Enqueue(sessionID, messageID uuid.UUID)
	// RefreshNow runs one refresh synchronously. The worker calls this; tests
	// and the introduction flow may too.
	RefreshNow(ctx context.Context, sessionID, messageID uuid.UUID) error
}

type followUpJob struct {
	sessionID uuid.UUID
	messageID uuid.UUID
}

type followUpService struct {
	db  *gorm.DB
	log *logger.Logger

	sessionRepo  repos.SessionRepo
	phaseRepo    repos.PhaseRepo
	termRepo     repos.TermRepo
	messageRepo  repos.MessageRepo
	followUpRepo repos.FollowUpRepo

	ai     MistralClient
	notify SessionNotifier

	jobs  chan followUpJob
	delay time.Duration
}

func NewFollowUpService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	phaseRepo repos.PhaseRepo,
	termRepo repos.TermRepo,
	messageRepo repos.MessageRepo,
	followUpRepo repos.FollowUpRepo,
	ai MistralClient,
	notify SessionNotifier,
) FollowUpService {
	return &followUpService{
		db:           db,
		log:          baseLog.With("service", "FollowUpService"),
		sessionRepo:  sessionRepo,
		phaseRepo:    phaseRepo,
		termRepo:     termRepo,
		messageRepo:  messageRepo,
		followUpRepo: followUpRepo,
		ai:           ai,
		notify:       notify,
		jobs:         make(chan followUpJob, 64),
		delay:        followUpDefaultDelay,
	}
}

func (s *followUpService) StartWorker(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-s.jobs:
				if err := s.RefreshNow(ctx, job.sessionID, job.messageID); err != nil {
					s.log.Warn("Follow-up refresh failed", "session_id", job.sessionID, "error", err)
				}
			}
		}
	}()
}

func (s *followUpService) Enqueue(sessionID, messageID uuid.UUID) {
	if sessionID == uuid.Nil || messageID == uuid.Nil {
		return
	}
	select {
	case s.jobs <- followUpJob{sessionID: sessionID, messageID: messageID}:
	default:
		s.log.Warn("Follow-up queue full, dropping refresh", "session_id", sessionID)
	}
}

func (s *followUpService) RefreshNow(ctx context.Context, sessionID, messageID uuid.UUID) error {
	sessions, err := s.sessionRepo.GetByIDs(ctx, nil, []uuid.UUID{sessionID})
	if err != nil {
		return err
	}
	if len(sessions) == 0 || sessions[0] == nil {
		return Errorf(CodeSessionNotFound, "session %s not found", sessionID)
	}
	session := sessions[0]

	phases, err := s.phaseRepo.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		return err
	}
	terms, err := s.termRepo.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		return err
	}
	transcript, err := s.messageRepo.ListRecentBySession(ctx, nil, sessionID, transcriptWindow)
	if err != nil {
		return err
	}

	progress := BuildPhaseProgress(phases, terms)
	remaining := RemainingTermsAcrossPhases(progress)

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}

	suggestions := s.askModel(ctx, session, transcript, remaining)
	suggestions = backfillSuggestions(suggestions, remaining)

	now := time.Now().UTC()
	batch := make([]*types.FollowUp, 0, len(suggestions))
	for _, sg := range suggestions {
		batch = append(batch, &types.FollowUp{
			ID:        uuid.New(),
			SessionID: sessionID,
			MessageID: messageID,
			Prompt:    sg.Prompt,
			Rationale: sg.Rationale,
			CreatedAt: now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.followUpRepo.DeleteUnusedBySession(ctx, tx, sessionID); err != nil {
			return err
		}
		_, err := s.followUpRepo.Create(ctx, tx, batch)
		return err
	})
	if err != nil {
		return err
	}

	if s.notify != nil {
		s.notify.FollowUpsUpdated(session.UserID, sessionID, batch)
	}
	return nil
}

type suggestion struct {
	Prompt    string `json:"prompt"`
	Rationale string `json:"rationale"`
}

// askModel asks for up to three Socratic follow-up questions. Any transport
// or parse failure is swallowed and reported as zero suggestions.
func (s *followUpService) askModel(ctx context.Context, session *types.Session, transcript []*types.Message, remaining []string) []suggestion {
	if s.ai == nil {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, m := range transcript {
		if m == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Body)
	}
	sb.WriteString("\nKey terms not yet covered: ")
	if len(remaining) == 0 {
		sb.WriteString("(none — the plan is complete)")
	} else {
		sb.WriteString(strings.Join(remaining, ", "))
	}
	sb.WriteString("\n\nRespond with only a JSON object of the form " +
		`{"suggestions":[{"prompt":"...","rationale":"..."}]}` +
		" containing up to 3 entries.")

	system := fmt.Sprintf("You suggest the learner's next question in a tutoring session about %q. "+
		"Every prompt must be phrased as a question under 120 characters, Socratic in spirit, and "+
		"steer toward the key terms that have not come up yet.", session.Topic)

	content, _, err := s.ai.Chat(ctx, system, []ChatMessage{{Role: "user", Content: sb.String()}}, ChatOptions{
		Temperature: 0.6,
		MaxTokens:   512,
	})
	if err != nil {
		s.log.Warn("Follow-up model call failed, falling back to templates", "session_id", session.ID, "error", err)
		return nil
	}

	payload, ok := ExtractJSONPayload(content)
	if !ok {
		s.log.Warn("Follow-up response had no JSON payload", "session_id", session.ID)
		return nil
	}
	var parsed struct {
		Suggestions []suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		s.log.Warn("Follow-up JSON did not parse", "session_id", session.ID, "error", err)
		return nil
	}
	return normalizeSuggestions(parsed.Suggestions)
}

// normalizeSuggestions trims and collapses whitespace, forces a trailing
// question mark, drops case-insensitive duplicates and caps the batch.
func normalizeSuggestions(in []suggestion) []suggestion {
	var out []suggestion
	seen := map[string]bool{}
	for _, sg := range in {
		prompt := strings.Join(strings.Fields(sg.Prompt), " ")
		if prompt == "" {
			continue
		}
		prompt = strings.TrimRight(prompt, "?.!")
		if prompt == "" {
			continue
		}
		prompt += "?"
		key := strings.ToLower(prompt)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, suggestion{
			Prompt:    prompt,
			Rationale: strings.TrimSpace(sg.Rationale),
		})
		if len(out) == followUpBatchSize {
			break
		}
	}
	return out
}

var genericFollowUps = []suggestion{
	{Prompt: "Can you give me a real-world example of what we just covered?", Rationale: "Concrete examples anchor new ideas."},
	{Prompt: "How does this connect to what we discussed earlier?", Rationale: "Linking concepts strengthens recall."},
	{Prompt: "What should we focus on next to keep making progress?", Rationale: "Keeps the session moving through the plan."},
}

// backfillSuggestions tops a short batch up to three: first deterministic
// per-term templates over the remaining uncovered terms, then the generic
// pool. The learner always receives a full batch.
func backfillSuggestions(in []suggestion, remaining []string) []suggestion {
	out := normalizeSuggestions(in)
	seen := map[string]bool{}
	for _, sg := range out {
		seen[strings.ToLower(sg.Prompt)] = true
	}

	for _, term := range remaining {
		if len(out) >= followUpBatchSize {
			return out
		}
		sg := suggestion{
			Prompt:    fmt.Sprintf("Can we explore %q next?", term),
			Rationale: fmt.Sprintf("%q has not come up yet in this phase of the plan.", term),
		}
		key := strings.ToLower(sg.Prompt)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sg)
	}

	for _, sg := range genericFollowUps {
		if len(out) >= followUpBatchSize {
			return out
		}
		key := strings.ToLower(sg.Prompt)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sg)
	}
	return out
}
