package domain

import "time"

// SessionID is a signaling-assigned session identifier.
type SessionID string

// VideoStreamType distinguishes camera and screen-share connections to one session.
type VideoStreamType string

const (
	StreamVideo  VideoStreamType = "video"
	StreamScreen VideoStreamType = "screen"
)

func ParseVideoStreamType(s string) VideoStreamType {
	if s == string(StreamScreen) {
		return StreamScreen
	}
	return StreamVideo
}

type ICEConnectionState int

const (
	ICENew ICEConnectionState = iota
	ICEChecking
	ICEConnected
	ICECompleted
	ICEFailed
	ICEDisconnected
	ICEClosed
)

func (s ICEConnectionState) String() string {
	switch s {
	case ICENew:
		return "new"
	case ICEChecking:
		return "checking"
	case ICEConnected:
		return "connected"
	case ICECompleted:
		return "completed"
	case ICEFailed:
		return "failed"
	case ICEDisconnected:
		return "disconnected"
	case ICEClosed:
		return "closed"
	}
	return "unknown"
}

// Established is true once media can flow.
func (s ICEConnectionState) Established() bool {
	return s == ICEConnected || s == ICECompleted
}

type RaisedHand struct {
	State     bool  `json:"state"`
	Timestamp int64 `json:"timestamp"`
}

func NewRaisedHand(state bool, at time.Time) RaisedHand {
	return RaisedHand{State: state, Timestamp: at.UnixMilli()}
}
