package toolops

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arcway/toolops/pkg/models"
)

// agentStateTransitions is the session-level router table from §4.7.
var agentStateTransitions = map[models.AgentState]map[models.AgentAction]models.AgentState{
	models.AgentNormalChat: {
		models.ActionStartTool: models.AgentToolOperation,
	},
	models.AgentToolOperation: {
		models.ActionCompleteTool: models.AgentNormalChat,
		models.ActionCancelTool:   models.AgentNormalChat,
	},
}

// AgentStateManager is the top-level per-session router between ordinary
// chat and an in-flight tool operation. Any state accepts ERROR -> NORMAL_CHAT.
type AgentStateManager struct {
	mu     sync.Mutex
	states map[string]models.AgentState
	logger *slog.Logger
}

// NewAgentStateManager constructs an AgentStateManager.
func NewAgentStateManager(logger *slog.Logger) *AgentStateManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentStateManager{
		states: make(map[string]models.AgentState),
		logger: logger.With("component", "agent-state-manager"),
	}
}

// Current returns sessionID's current router state, defaulting to
// NORMAL_CHAT for sessions never seen before.
func (m *AgentStateManager) Current(sessionID string) models.AgentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[sessionID]
	if !ok {
		return models.AgentNormalChat
	}
	return state
}

// Apply transitions sessionID's state by action, per the table above. ERROR
// is accepted from any state and always lands on NORMAL_CHAT.
func (m *AgentStateManager) Apply(ctx context.Context, sessionID string, action models.AgentAction) models.AgentState {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.states[sessionID]
	if current == "" {
		current = models.AgentNormalChat
	}

	if action == models.ActionAgentError {
		m.states[sessionID] = models.AgentNormalChat
		return models.AgentNormalChat
	}

	next, ok := agentStateTransitions[current][action]
	if !ok {
		m.logger.Warn("rejected illegal agent state transition",
			"session_id", sessionID, "from", current, "action", action)
		return current
	}
	m.states[sessionID] = next
	return next
}

// Reset clears sessionID's tracked state, used by cleanup().
func (m *AgentStateManager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
}
