package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/repos"
	"github.com/yungbote/socratica-backend/internal/requestdata"
	"github.com/yungbote/socratica-backend/internal/types"
)

// PlanInput is the structured plan a learner accepts to start a session.
type PlanInput struct {
	Topic   string           `json:"topic"`
	Tone    string           `json:"tone,omitempty"`
	Summary string           `json:"summary,omitempty"`
	Phases  []PlanPhaseInput `json:"phases"`
}

type PlanPhaseInput struct {
	Name      string   `json:"name"`
	Objective string   `json:"objective"`
	KeyTerms  []string `json:"key_terms"`
}

// SessionView bundles a session with its live progress snapshot and the
// current unused follow-up batch.
type SessionView struct {
	Session   *types.Session    `json:"session"`
	Progress  []PhaseProgress   `json:"progress"`
	FollowUps []*types.FollowUp `json:"follow_ups"`
}

type SessionService interface {
	// AcceptPlan validates the plan and atomically creates the session with
	// its phases and terms.
	AcceptPlan(ctx context.Context, input PlanInput) (*types.Session, []PhaseProgress, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionView, error)
	ListSessions(ctx context.Context, limit int) ([]*types.Session, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*types.Message, error)
	ListFollowUps(ctx context.Context, sessionID uuid.UUID) ([]*types.FollowUp, error)
}

type sessionService struct {
	db  *gorm.DB
	log *logger.Logger

	sessionRepo  repos.SessionRepo
	phaseRepo    repos.PhaseRepo
	termRepo     repos.TermRepo
	messageRepo  repos.MessageRepo
	followUpRepo repos.FollowUpRepo
	notify       SessionNotifier
}

func NewSessionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	phaseRepo repos.PhaseRepo,
	termRepo repos.TermRepo,
	messageRepo repos.MessageRepo,
	followUpRepo repos.FollowUpRepo,
	notify SessionNotifier,
) SessionService {
	return &sessionService{
		db:           db,
		log:          baseLog.With("service", "SessionService"),
		sessionRepo:  sessionRepo,
		phaseRepo:    phaseRepo,
		termRepo:     termRepo,
		messageRepo:  messageRepo,
		followUpRepo: followUpRepo,
		notify:       notify,
	}
}

func (s *sessionService) AcceptPlan(ctx context.Context, input PlanInput) (*types.Session, []PhaseProgress, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, Errorf(CodeNotAuthenticated, "not authenticated")
	}

	topic := strings.TrimSpace(input.Topic)
	if topic == "" {
		return nil, nil, Errorf(CodeInvalidPlan, "plan is missing a topic")
	}
	if len(input.Phases) == 0 {
		return nil, nil, Errorf(CodeInvalidPlan, "plan has no phases")
	}

	type plannedPhase struct {
		name      string
		objective string
		terms     []string
	}
	planned := make([]plannedPhase, 0, len(input.Phases))
	totalTerms := 0
	for i, p := range input.Phases {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, nil, Errorf(CodeInvalidPlan, "phase %d is missing a name", i)
		}
		var terms []string
		for _, t := range p.KeyTerms {
			if trimmed := strings.TrimSpace(t); trimmed != "" {
				terms = append(terms, trimmed)
			}
		}
		if len(terms) == 0 {
			return nil, nil, Errorf(CodeInvalidPlan, "phase %q has no key terms", name)
		}
		totalTerms += len(terms)
		planned = append(planned, plannedPhase{name: name, objective: strings.TrimSpace(p.Objective), terms: terms})
	}

	now := time.Now().UTC()
	firstPhase := 0
	session := &types.Session{
		ID:                uuid.New(),
		UserID:            rd.UserID,
		Topic:             topic,
		Tone:              strings.TrimSpace(input.Tone),
		Summary:           strings.TrimSpace(input.Summary),
		CurrentPhaseIndex: &firstPhase,
		TotalPhases:       len(planned),
		TotalTerms:        totalTerms,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var phases []*types.Phase
	var terms []*types.Term
	for i, p := range planned {
		phases = append(phases, &types.Phase{
			ID:         uuid.New(),
			SessionID:  session.ID,
			PhaseIndex: i,
			Name:       p.name,
			Objective:  p.objective,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		for _, t := range p.terms {
			terms = append(terms, &types.Term{
				ID:         uuid.New(),
				SessionID:  session.ID,
				PhaseIndex: i,
				Term:       t,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.sessionRepo.Create(ctx, tx, []*types.Session{session}); err != nil {
			return err
		}
		if _, err := s.phaseRepo.Create(ctx, tx, phases); err != nil {
			return err
		}
		if _, err := s.termRepo.Create(ctx, tx, terms); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	progress := BuildPhaseProgress(phases, terms)
	if s.notify != nil {
		s.notify.SessionCreated(rd.UserID, session)
	}
	s.log.Info("Session created from accepted plan", "session_id", session.ID, "phases", len(phases), "terms", len(terms))
	return session, progress, nil
}

func (s *sessionService) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	session, err := s.loadOwnedSession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	phases, err := s.phaseRepo.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	terms, err := s.termRepo.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	followUps, err := s.followUpRepo.ListUnusedBySession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{
		Session:   session,
		Progress:  BuildPhaseProgress(phases, terms),
		FollowUps: followUps,
	}, nil
}

func (s *sessionService) ListSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, Errorf(CodeNotAuthenticated, "not authenticated")
	}
	return s.sessionRepo.ListByUser(ctx, nil, rd.UserID, limit)
}

func (s *sessionService) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*types.Message, error) {
	if _, err := s.loadOwnedSession(ctx, nil, sessionID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListRecentBySession(ctx, nil, sessionID, limit)
}

func (s *sessionService) ListFollowUps(ctx context.Context, sessionID uuid.UUID) ([]*types.FollowUp, error) {
	if _, err := s.loadOwnedSession(ctx, nil, sessionID); err != nil {
		return nil, err
	}
	return s.followUpRepo.ListUnusedBySession(ctx, nil, sessionID)
}

func (s *sessionService) loadOwnedSession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.Session, error) {
	return loadOwnedSession(ctx, tx, s.sessionRepo, sessionID)
}

// loadOwnedSession resolves the caller's session, treating "exists but not
// owned" identically to "does not exist".
func loadOwnedSession(ctx context.Context, tx *gorm.DB, sessionRepo repos.SessionRepo, sessionID uuid.UUID) (*types.Session, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, Errorf(CodeNotAuthenticated, "not authenticated")
	}
	if sessionID == uuid.Nil {
		return nil, Errorf(CodeSessionNotFound, "missing session id")
	}
	rows, err := sessionRepo.GetByIDs(ctx, tx, []uuid.UUID{sessionID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil || rows[0].UserID != rd.UserID {
		return nil, Errorf(CodeSessionNotFound, "session not found")
	}
	return rows[0], nil
}
