package socket

import (
	"context"
	"log"
	"time"

	"pairchat_server/models"
)

// SessionHub is the inbound dispatch surface of the session registry.
// Implemented by services.SessionService.
type SessionHub interface {
	Message(ctx context.Context, sessionID, userID, text string)
	Rematch(ctx context.Context, sessionID, userID string)
	Leave(ctx context.Context, sessionID, userID string)
	Disconnect(ctx context.Context, sessionID, userID string)
}

// Serve reads client frames off one attached socket and dispatches them to
// the session until the socket closes. Blocks; run per connection.
func Serve(ctx context.Context, hub SessionHub, conn *Conn, sessionID, userID string) {
	defer hub.Disconnect(ctx, sessionID, userID)

	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Printf("🔌 Socket closed for %s in session %s: %v", userID, sessionID, err)
			return
		}
		switch frame.Type {
		case models.FrameChatMessage:
			hub.Message(ctx, sessionID, userID, frame.Message)
		case models.FrameNext:
			hub.Rematch(ctx, sessionID, userID)
		case models.FrameLeave:
			hub.Leave(ctx, sessionID, userID)
			return
		case models.FrameHeartbeat:
			conn.SendJSON(models.Frame{Type: models.FrameHeartbeatAck, Timestamp: time.Now().Format(time.RFC3339)})
		default:
			conn.SendJSON(models.Frame{Type: models.FrameError, Message: "unknown frame type"})
		}
	}
}
