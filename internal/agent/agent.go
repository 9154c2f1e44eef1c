// Package agent wires the tool operation lifecycle engine's collaborators
// into one integrator-facing surface: get_response, start_new_session,
// get_history, cleanup, mirroring the external-interfaces contract the rest
// of the engine is built against.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arcway/toolops/internal/sessions"
	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

// WelcomeMessage is returned by StartNewSession as the fixed onboarding
// greeting for a freshly created session.
const WelcomeMessage = "Hi! I can help you draft and schedule tweets, or move NEAR between accounts. What would you like to do?"

// Agent is the process-level facade a channel adapter (console, webhook,
// chat bridge) drives: one HandleMessage-backed Orchestrator plus the
// session/message log that sits beside it.
type Agent struct {
	AgentID      string
	sessions     sessions.Store
	orchestrator *toolops.Orchestrator
	logger       *slog.Logger
}

// New constructs an Agent.
func New(agentID string, sessionStore sessions.Store, orchestrator *toolops.Orchestrator, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		AgentID:      agentID,
		sessions:     sessionStore,
		orchestrator: orchestrator,
		logger:       logger.With("component", "agent"),
	}
}

// StartNewSession creates (or reuses) the session keyed by externalID and
// returns the welcome text a channel adapter should send first.
func (a *Agent) StartNewSession(ctx context.Context, externalID string) (*models.Session, string, error) {
	key := sessions.SessionKey(a.AgentID, externalID)
	session, err := a.sessions.GetOrCreate(ctx, key, a.AgentID)
	if err != nil {
		return nil, "", fmt.Errorf("agent: starting session: %w", err)
	}
	welcome := &models.Message{
		ID:              uuid.NewString(),
		SessionID:       session.ID,
		Role:            models.RoleAssistant,
		Content:         WelcomeMessage,
		InteractionType: models.InteractionSystem,
	}
	if err := a.sessions.AppendMessage(ctx, session.ID, welcome); err != nil {
		return nil, "", fmt.Errorf("agent: recording welcome message: %w", err)
	}
	return session, WelcomeMessage, nil
}

// GetResponse appends the inbound message to the session's history,
// dispatches it through the Orchestrator, and records the reply.
func (a *Agent) GetResponse(ctx context.Context, externalID, content string, role models.Role, interaction models.InteractionType) (*toolops.ReplyEnvelope, error) {
	key := sessions.SessionKey(a.AgentID, externalID)
	session, err := a.sessions.GetOrCreate(ctx, key, a.AgentID)
	if err != nil {
		return nil, fmt.Errorf("agent: resolving session: %w", err)
	}

	inbound := &models.Message{
		ID:              uuid.NewString(),
		SessionID:       session.ID,
		Role:            role,
		Content:         content,
		InteractionType: interaction,
	}
	if err := a.sessions.AppendMessage(ctx, session.ID, inbound); err != nil {
		return nil, fmt.Errorf("agent: recording inbound message: %w", err)
	}

	envelope, err := a.orchestrator.HandleMessage(ctx, session.ID, content)
	if err != nil {
		a.logger.Error("handling message failed", "session_id", session.ID, "error", err)
		return nil, err
	}

	outbound := &models.Message{
		ID:              uuid.NewString(),
		SessionID:       session.ID,
		Role:            models.RoleAssistant,
		Content:         envelope.Response,
		InteractionType: models.InteractionToolReply,
	}
	if err := a.sessions.AppendMessage(ctx, session.ID, outbound); err != nil {
		a.logger.Error("recording outbound message failed", "session_id", session.ID, "error", err)
	}
	return envelope, nil
}

// GetHistory returns the most recent limit messages for externalID's session.
func (a *Agent) GetHistory(ctx context.Context, externalID string, limit int) ([]*models.Message, error) {
	key := sessions.SessionKey(a.AgentID, externalID)
	session, err := a.sessions.GetOrCreate(ctx, key, a.AgentID)
	if err != nil {
		return nil, fmt.Errorf("agent: resolving session: %w", err)
	}
	history, err := a.sessions.GetHistory(ctx, session.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("agent: loading history: %w", err)
	}
	return history, nil
}

// Cleanup releases any resources the Agent's collaborators hold open. The
// Executor's goroutines are stopped separately by the process composition
// root, which owns their lifecycle; Cleanup only covers per-Agent state.
func (a *Agent) Cleanup(ctx context.Context) error {
	return nil
}
