package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/repos"
	"github.com/yungbote/socratica-backend/internal/requestdata"
	"github.com/yungbote/socratica-backend/internal/types"
)

// The production schema leans on postgres defaults (uuid_generate_v4, now()),
// so tests create the tables explicitly; services always set ids and
// timestamps themselves.
var testDDL = []string{
	`CREATE TABLE "user" (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		avatar_url TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE "user_token" (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		access_token TEXT,
		refresh_token TEXT,
		expires_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE "session" (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		tone TEXT,
		summary TEXT,
		current_phase_index INTEGER,
		total_phases INTEGER NOT NULL DEFAULT 0,
		completed_phases INTEGER NOT NULL DEFAULT 0,
		total_terms INTEGER NOT NULL DEFAULT 0,
		completed_terms INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		archived_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE "phase" (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		phase_index INTEGER NOT NULL,
		name TEXT NOT NULL,
		objective TEXT,
		completed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE "term" (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		phase_index INTEGER NOT NULL,
		term TEXT NOT NULL,
		first_covered_at DATETIME,
		exposure_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE "message" (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		body TEXT NOT NULL,
		detected_terms TEXT,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE "follow_up" (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		rationale TEXT,
		used_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	// One in-memory database per test; a second connection would see nothing.
	sqlDB.SetMaxOpenConns(1)
	for _, stmt := range testDDL {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// scriptedAI replays canned replies in order, repeating the last one.
type scriptedAI struct {
	replies      []string
	err          error
	calls        int
	lastSystem   string
	lastMessages []ChatMessage
}

func (f *scriptedAI) Chat(ctx context.Context, system string, messages []ChatMessage, opts ChatOptions) (string, *ChatUsage, error) {
	f.calls++
	f.lastSystem = system
	f.lastMessages = messages
	if f.err != nil {
		return "", nil, f.err
	}
	if len(f.replies) == 0 {
		return "", nil, Errorf(CodeEmptyModelResponse, "model returned empty content")
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, &ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, nil
}

type testEnv struct {
	db  *gorm.DB
	log *logger.Logger
	ai  *scriptedAI

	userRepo     repos.UserRepo
	sessionRepo  repos.SessionRepo
	phaseRepo    repos.PhaseRepo
	termRepo     repos.TermRepo
	messageRepo  repos.MessageRepo
	followUpRepo repos.FollowUpRepo

	sessions  SessionService
	turns     TurnService
	followUps *followUpService

	user *types.User
	ctx  context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	env := &testEnv{
		db:           db,
		log:          log,
		ai:           &scriptedAI{},
		userRepo:     repos.NewUserRepo(db, log),
		sessionRepo:  repos.NewSessionRepo(db, log),
		phaseRepo:    repos.NewPhaseRepo(db, log),
		termRepo:     repos.NewTermRepo(db, log),
		messageRepo:  repos.NewMessageRepo(db, log),
		followUpRepo: repos.NewFollowUpRepo(db, log),
	}

	env.followUps = NewFollowUpService(db, log, env.sessionRepo, env.phaseRepo, env.termRepo, env.messageRepo, env.followUpRepo, env.ai, nil).(*followUpService)
	env.followUps.delay = 0
	env.sessions = NewSessionService(db, log, env.sessionRepo, env.phaseRepo, env.termRepo, env.messageRepo, env.followUpRepo, nil)
	env.turns = NewTurnService(db, log, env.userRepo, env.sessionRepo, env.phaseRepo, env.termRepo, env.messageRepo, env.followUpRepo, env.ai, env.followUps, nil)

	now := time.Now().UTC()
	env.user = &types.User{
		ID:        uuid.New(),
		Email:     "learner@example.com",
		Password:  "irrelevant",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := env.userRepo.Create(context.Background(), nil, []*types.User{env.user}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	env.ctx = requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: env.user.ID})
	return env
}

// cellBiologyPlan is the canonical two-phase fixture used across tests.
func cellBiologyPlan() PlanInput {
	return PlanInput{
		Topic: "Cell division",
		Tone:  "encouraging",
		Phases: []PlanPhaseInput{
			{
				Name:      "Foundations",
				Objective: "Understand what mitosis accomplishes",
				KeyTerms:  []string{"mitosis", "cytokinesis"},
			},
			{
				Name:      "Mechanics",
				Objective: "Follow the chromosome machinery",
				KeyTerms:  []string{"centromere"},
			},
		},
	}
}

func (env *testEnv) acceptPlan(t *testing.T) *types.Session {
	t.Helper()
	session, _, err := env.sessions.AcceptPlan(env.ctx, cellBiologyPlan())
	if err != nil {
		t.Fatalf("AcceptPlan: %v", err)
	}
	return session
}

func (env *testEnv) termByName(t *testing.T, sessionID uuid.UUID, name string) *types.Term {
	t.Helper()
	terms, err := env.termRepo.GetBySessionID(context.Background(), nil, sessionID)
	if err != nil {
		t.Fatalf("load terms: %v", err)
	}
	for _, term := range terms {
		if term.Term == name {
			return term
		}
	}
	t.Fatalf("term %q not found", name)
	return nil
}
