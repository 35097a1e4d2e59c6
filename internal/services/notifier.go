package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/sse"
	"github.com/yungbote/socratica-backend/internal/types"
)

// SSEPublisher is the cross-instance fan-out surface (the redis bus in
// production); nil-able so single-instance deployments run without redis.
type SSEPublisher interface {
	Publish(ctx context.Context, msg sse.SSEMessage) error
}

// SessionNotifier pushes realtime updates about a session to its owner's SSE
// channel, locally and across replicas.
type SessionNotifier interface {
	SessionCreated(userID uuid.UUID, session *types.Session)
	ProgressUpdated(userID uuid.UUID, session *types.Session, newlyCovered []string, progress []PhaseProgress)
	FollowUpsUpdated(userID uuid.UUID, sessionID uuid.UUID, batch []*types.FollowUp)
}

type sessionNotifier struct {
	log *logger.Logger
	hub *sse.SSEHub
	bus SSEPublisher
}

func NewSessionNotifier(baseLog *logger.Logger, hub *sse.SSEHub, bus SSEPublisher) SessionNotifier {
	return &sessionNotifier{
		log: baseLog.With("service", "SessionNotifier"),
		hub: hub,
		bus: bus,
	}
}

func (n *sessionNotifier) emit(msg sse.SSEMessage) {
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
	if n.bus != nil {
		if err := n.bus.Publish(context.Background(), msg); err != nil {
			n.log.Warn("Failed to publish SSE message to bus", "error", err)
		}
	}
}

func (n *sessionNotifier) SessionCreated(userID uuid.UUID, session *types.Session) {
	if n == nil || userID == uuid.Nil {
		return
	}
	n.emit(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventSessionCreated,
		Data:    map[string]any{"session": session},
	})
}

func (n *sessionNotifier) ProgressUpdated(userID uuid.UUID, session *types.Session, newlyCovered []string, progress []PhaseProgress) {
	if n == nil || userID == uuid.Nil {
		return
	}
	data := map[string]any{
		"session":             session,
		"newly_covered_terms": newlyCovered,
		"phase_progress":      progress,
	}
	n.emit(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventSessionProgress,
		Data:    data,
	})
	if session != nil {
		n.emit(sse.SSEMessage{
			Channel: sse.SessionChannel(session.ID),
			Event:   sse.SSEEventSessionProgress,
			Data:    data,
		})
	}
}

func (n *sessionNotifier) FollowUpsUpdated(userID uuid.UUID, sessionID uuid.UUID, batch []*types.FollowUp) {
	if n == nil || userID == uuid.Nil {
		return
	}
	data := map[string]any{
		"session_id": sessionID,
		"follow_ups": batch,
	}
	n.emit(sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventFollowUpsUpdated,
		Data:    data,
	})
	if sessionID != uuid.Nil {
		n.emit(sse.SSEMessage{
			Channel: sse.SessionChannel(sessionID),
			Event:   sse.SSEEventFollowUpsUpdated,
			Data:    data,
		})
	}
}
