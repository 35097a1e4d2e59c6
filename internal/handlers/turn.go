package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/services"
)

type TurnHandler struct {
	log         *logger.Logger
	turnService services.TurnService
	ai          services.MistralClient
}

func NewTurnHandler(baseLog *logger.Logger, turnService services.TurnService, ai services.MistralClient) *TurnHandler {
	return &TurnHandler{
		log:         baseLog.With("handler", "TurnHandler"),
		turnService: turnService,
		ai:          ai,
	}
}

type turnRequest struct {
	Message     string     `json:"message"`
	FollowUpID  *uuid.UUID `json:"follow_up_id,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
}

// SendTurn runs a full learning turn and returns the finalized result.
func (th *TurnHandler) SendTurn(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := th.turnService.RunSessionTurn(c.Request.Context(), sessionID, req.Message, req.FollowUpID, req.Temperature, nil)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

// StreamTurn runs the same turn over an SSE response. Frame order is
// prepared, delta, final; any failure after the prepared frame is reported
// as a terminal error frame so the client never hangs.
func (th *TurnHandler) StreamTurn(c *gin.Context) {
	sessionID, ok := parseSessionID(c)
	if !ok {
		return
	}
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	prepared, err := th.turnService.PrepareTurn(c.Request.Context(), sessionID, req.Message, req.FollowUpID, req.Temperature)
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, canFlush := c.Writer.(http.Flusher)
	emit := func(event string, payload any) {
		raw, err := json.Marshal(payload)
		if err != nil {
			th.log.Warn("Failed to marshal stream frame", "event", event, "error", err)
			return
		}
		_, _ = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, raw)
		if canFlush {
			flusher.Flush()
		}
	}

	emit("prepared", gin.H{
		"session_id":      prepared.SessionID,
		"user_message_id": prepared.UserMessageID,
	})

	content, usage, err := th.ai.Chat(c.Request.Context(), prepared.System, prepared.Messages, prepared.Options)
	if err != nil {
		emit("error", APIError{Message: err.Error(), Code: services.CodeOf(err)})
		return
	}
	emit("delta", gin.H{"token": content})

	// A client abort must not strand the turn half-finalized.
	result, err := th.turnService.FinalizeTurn(context.WithoutCancel(c.Request.Context()), sessionID, prepared.UserMessageID, content, usage)
	if err != nil {
		emit("error", APIError{Message: err.Error(), Code: services.CodeOf(err)})
		return
	}
	emit("final", gin.H{"result": result})
}
