package broadcast

import "privacyspace/internal/domain"

type FrameType string

const (
	FrameReady        FrameType = "ready"
	FrameUpdate       FrameType = "update"
	FrameResync       FrameType = "resync"
	FrameHeartbeat    FrameType = "heartbeat"
	FrameHeartbeatAck FrameType = "heartbeat_ack"
)

// Frame is the JSON message exchanged on the subscribe stream.
type Frame struct {
	Type      FrameType      `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Update    *domain.Update `json:"update,omitempty"`
}

func UpdateFrame(update domain.Update) Frame {
	return Frame{Type: FrameUpdate, Update: &update}
}
