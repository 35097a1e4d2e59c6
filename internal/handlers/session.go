package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/socratica-backend/internal/services"
)

type SessionHandler struct {
	sessionService services.SessionService
	turnService    services.TurnService
}

func NewSessionHandler(sessionService services.SessionService, turnService services.TurnService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		turnService:    turnService,
	}
}

// AcceptPlan creates a session from an accepted lesson plan.
func (sh *SessionHandler) AcceptPlan(c *gin.Context) {
	var req services.PlanInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, progress, err := sh.sessionService.AcceptPlan(c.Request.Context(), req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session, "progress": progress})
}

func (sh *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	view, err := sh.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, view)
}

func (sh *SessionHandler) ListSessions(c *gin.Context) {
	limit := parseLimit(c, 50)
	sessions, err := sh.sessionService.ListSessions(c.Request.Context(), limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"sessions": sessions})
}

func (sh *SessionHandler) ListMessages(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	limit := parseLimit(c, 40)
	messages, err := sh.sessionService.ListMessages(c.Request.Context(), sessionID, limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"messages": messages})
}

func (sh *SessionHandler) ListFollowUps(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	followUps, err := sh.sessionService.ListFollowUps(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"follow_ups": followUps})
}

// Introduce asks the model for the session's opening message. Safe to call
// repeatedly; only the first call writes anything.
func (sh *SessionHandler) Introduce(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	result, err := sh.turnService.IntroduceSession(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

func parseSessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
