package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// PublishAgentChunk broadcasts a transient agent.chunk event (no DB
// persistence) — the high-frequency half of spec.md §4.3's event catalog,
// mirroring PublishStreamChunk's notify-only treatment of streaming tokens.
func (p *EventPublisher) PublishAgentChunk(ctx context.Context, sessionID string, payload AgentChunkPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AgentChunkPayload: %w", err)
	}
	return p.notifyOnly(ctx, SessionChannel(sessionID), payloadJSON)
}

// PublishPlanInfo persists and broadcasts a plan_info event.
func (p *EventPublisher) PublishPlanInfo(ctx context.Context, sessionID string, payload PlanInfoPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal PlanInfoPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishRetry persists and broadcasts a retry event.
func (p *EventPublisher) PublishRetry(ctx context.Context, sessionID string, payload RetryPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal RetryPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishAbilitySelected persists and broadcasts an ability_selected event.
func (p *EventPublisher) PublishAbilitySelected(ctx context.Context, sessionID string, payload AbilitySelectedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AbilitySelectedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishToolsSelected persists and broadcasts a tools_selected event.
func (p *EventPublisher) PublishToolsSelected(ctx context.Context, sessionID string, payload ToolsSelectedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ToolsSelectedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishTenthManWarning persists and broadcasts a tenth_man_warning event.
func (p *EventPublisher) PublishTenthManWarning(ctx context.Context, sessionID string, payload TenthManWarningPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TenthManWarningPayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// PublishTenthManCritique persists and broadcasts a tenth_man_critique event.
func (p *EventPublisher) PublishTenthManCritique(ctx context.Context, sessionID string, payload TenthManCritiquePayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TenthManCritiquePayload: %w", err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}
