package models

// Frame types sent server → client over the chat socket.
const (
	FrameHistory             = "history"
	FrameChatMessage         = "chatMessage"
	FramePartnerConnected    = "partner_connected"
	FramePartnerInfo         = "partner_info"
	FramePartnerDisconnected = "partner_disconnected"
	FrameSystem              = "system"
	FrameMatchResult         = "match_result"
	FrameHeartbeatAck        = "heartbeat_ack"
	FrameError               = "error"
)

// Frame types received client → server.
const (
	FrameNext      = "next"
	FrameLeave     = "leave"
	FrameHeartbeat = "heartbeat"
)

// Frame is one JSON object on the chat socket; unused fields are omitted
// per frame type.
type Frame struct {
	Type      string              `json:"type"`
	UserID    string              `json:"userId,omitempty"`
	UserName  string              `json:"userName,omitempty"`
	Message   string              `json:"message,omitempty"`
	Text      string              `json:"text,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
	Messages  []ChatMessageRecord `json:"messages,omitempty"`
	Status    string              `json:"status,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	PartnerID string              `json:"partnerId,omitempty"`
	WsURL     string              `json:"wsUrl,omitempty"`
}

// Close codes on the chat socket.
const (
	// CloseNormal ends a socket after leave or rematch.
	CloseNormal = 1000
	// ClosePolicy rejects a socket for a user outside the session.
	ClosePolicy = 1008
	// CloseNoConfig tells the client its session cannot be configured,
	// so it should resume matchmaking instead of reconnecting.
	CloseNoConfig = 4004
)
