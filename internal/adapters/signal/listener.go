package signal

import (
	"encoding/json"

	"github.com/dkeye/callsignal/internal/domain"
)

// Listener receives connection and room events. Callbacks run on the
// connection's reader goroutine and must not block for long.
type Listener interface {
	OnConnected(resumed bool)
	OnDisconnected(err error)
	// OnSessionInvalidated fires when the server forgot the session; the room must be rejoined.
	OnSessionInvalidated()
	OnRoomJoined(room domain.Room, resumed bool)
	OnRoomLeft(room domain.Room)
	OnParticipantsJoined(joined []EventSession)
	OnParticipantsLeft(left []domain.SessionID)
	OnParticipantsUpdate(update ParticipantsUpdate)
	OnRoomMessage(kind string, data json.RawMessage)
}

type NopListener struct{}

func (NopListener) OnConnected(bool)                        {}
func (NopListener) OnDisconnected(error)                    {}
func (NopListener) OnSessionInvalidated()                   {}
func (NopListener) OnRoomJoined(domain.Room, bool)          {}
func (NopListener) OnRoomLeft(domain.Room)                  {}
func (NopListener) OnParticipantsJoined([]EventSession)     {}
func (NopListener) OnParticipantsLeft([]domain.SessionID)   {}
func (NopListener) OnParticipantsUpdate(ParticipantsUpdate) {}
func (NopListener) OnRoomMessage(string, json.RawMessage)   {}
