package rtc

import (
	"encoding/json"

	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/core"
)

const StatusChannelLabel = "status"

// Status channel message types.
const (
	StatusAudioOn         = "audioOn"
	StatusAudioOff        = "audioOff"
	StatusVideoOn         = "videoOn"
	StatusVideoOff        = "videoOff"
	StatusSpeaking        = "speaking"
	StatusStoppedSpeaking = "stoppedSpeaking"
	StatusNickChanged     = "nickChanged"
)

// StatusMessage is one JSON text frame on the status data channel.
type StatusMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewStatusMessage(typ string, payload any) (StatusMessage, error) {
	m := StatusMessage{Type: typ}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return StatusMessage{}, err
	}
	m.Payload = raw
	return m, nil
}

// Nick decodes a nickChanged payload in either of its forms.
func (m StatusMessage) Nick() (signal.NickPayload, error) {
	var n signal.NickPayload
	err := json.Unmarshal(m.Payload, &n)
	return n, err
}

func audioStatus(on bool) StatusMessage {
	if on {
		return StatusMessage{Type: StatusAudioOn}
	}
	return StatusMessage{Type: StatusAudioOff}
}

func videoStatus(on bool) StatusMessage {
	if on {
		return StatusMessage{Type: StatusVideoOn}
	}
	return StatusMessage{Type: StatusVideoOff}
}

// announcement is what a freshly opened channel tells the other side.
func announcement(s core.LocalState) []StatusMessage {
	return []StatusMessage{audioStatus(s.AudioEnabled), videoStatus(s.VideoEnabled)}
}
