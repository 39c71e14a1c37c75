package ws

import (
	"context"
	"time"

	"classchat-service/internal/observability"
)

const wsRoutingKey = "ws_events.groups"

// publishConnEvent sends a connection lifecycle event to the event bus.
func publishConnEvent(ctx context.Context, c *Client, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "chat",
			"event":       event,
			"conn_id":     c.ID,
			"duration_ms": time.Since(c.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   c.Identity.UserID,
			"role":      string(c.Identity.Role),
			"device_id": c.DeviceID,
			"ip":        c.IP,
		},
	}

	headers := observability.BuildHeaders(c.RequestID, c.TraceID)
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
