package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/requestdata"
	"github.com/yungbote/socratica-backend/internal/services"
	"github.com/yungbote/socratica-backend/internal/sse"
)

type SSEHandler struct {
	log            *logger.Logger
	hub            *sse.SSEHub
	sessionService services.SessionService

	mu      sync.RWMutex
	clients map[uuid.UUID]*sse.SSEClient // one live stream per user
}

func NewSSEHandler(baseLog *logger.Logger, hub *sse.SSEHub, sessionService services.SessionService) *SSEHandler {
	return &SSEHandler{
		log:            baseLog.With("handler", "SSEHandler"),
		hub:            hub,
		sessionService: sessionService,
		clients:        make(map[uuid.UUID]*sse.SSEClient),
	}
}

// Stream opens the long-lived event stream for the authenticated user. Every
// user is subscribed to their own channel; session-scoped channels are added
// through Subscribe. A reconnect replaces the previous stream.
func (sh *SSEHandler) Stream(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	sh.mu.Lock()
	if existing, ok := sh.clients[rd.UserID]; ok {
		sh.hub.CloseClient(existing)
		delete(sh.clients, rd.UserID)
	}
	client := sh.hub.NewSSEClient(rd.UserID)
	sh.clients[rd.UserID] = client
	sh.mu.Unlock()

	sh.hub.AddChannel(client, rd.UserID.String())
	sh.log.Debug("SSE stream open", "user_id", rd.UserID)

	sh.hub.ServeHTTP(c.Writer, c.Request, client)

	// A reconnect may have already replaced and closed this client.
	sh.mu.Lock()
	owned := sh.clients[rd.UserID] == client
	if owned {
		delete(sh.clients, rd.UserID)
	}
	sh.mu.Unlock()
	if owned {
		sh.hub.CloseClient(client)
	}
}

// Subscribe adds the caller's live stream to a session's channel. Ownership is
// checked the same way every session read is.
func (sh *SSEHandler) Subscribe(c *gin.Context) {
	client, sessionID, ok := sh.resolveSessionChannel(c)
	if !ok {
		return
	}
	sh.hub.AddChannel(client, sse.SessionChannel(sessionID))
	RespondOK(c, gin.H{"message": "subscribed", "session_id": sessionID})
}

func (sh *SSEHandler) Unsubscribe(c *gin.Context) {
	client, sessionID, ok := sh.resolveSessionChannel(c)
	if !ok {
		return
	}
	sh.hub.RemoveChannel(client, sse.SessionChannel(sessionID))
	RespondOK(c, gin.H{"message": "unsubscribed", "session_id": sessionID})
}

func (sh *SSEHandler) resolveSessionChannel(c *gin.Context) (*sse.SSEClient, uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, uuid.Nil, false
	}

	var req struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, uuid.Nil, false
	}

	if _, err := sh.sessionService.GetSession(c.Request.Context(), req.SessionID); err != nil {
		RespondServiceError(c, err)
		return nil, uuid.Nil, false
	}

	sh.mu.RLock()
	client, exists := sh.clients[rd.UserID]
	sh.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusConflict, gin.H{"error": "no active SSE connection"})
		return nil, uuid.Nil, false
	}
	return client, req.SessionID, true
}
