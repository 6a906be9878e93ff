package signal

import (
	"encoding/json"

	"github.com/dkeye/callsignal/internal/domain"
)

// JoinRoom asks the server to move the session into token. Joining the room
// the session is already in only replays the joined event locally.
// An empty token leaves the current room.
func (c *Client) JoinRoom(token domain.RoomToken, backendSession string) error {
	if token == "" {
		return c.LeaveRoom()
	}
	want := domain.Room{Token: token, BackendSession: backendSession}

	c.mu.Lock()
	if c.room.Same(want) {
		l := c.listener
		c.mu.Unlock()
		c.logger.Debug().Str("room", string(token)).Msg("already in room")
		l.OnRoomJoined(want, false)
		return nil
	}
	c.pendingRoom = want
	c.mu.Unlock()

	c.logger.Info().Str("room", string(token)).Msg("joining room")
	return c.send(Envelope{
		Type: TypeRoom,
		Room: &RoomBody{RoomID: string(token), SessionID: backendSession},
	})
}

func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	if c.room.Empty() && c.pendingRoom.Empty() {
		c.mu.Unlock()
		return nil
	}
	c.pendingRoom = domain.Room{}
	c.mu.Unlock()

	c.logger.Info().Msg("leaving room")
	return c.send(Envelope{Type: TypeRoom, Room: &RoomBody{}})
}

func (c *Client) handleRoom(r *RoomBody) {
	if r == nil {
		c.logger.Warn().Msg("room without body")
		return
	}

	c.mu.Lock()
	if r.RoomID == "" {
		left := c.room
		c.room = domain.Room{}
		c.pendingRoom = domain.Room{}
		st := c.resumeStateLocked()
		l := c.listener
		c.mu.Unlock()

		c.saveResume(st)
		if !left.Empty() {
			c.logger.Info().Str("room", string(left.Token)).Msg("left room")
			l.OnRoomLeft(left)
		}
		return
	}

	room := domain.Room{Token: domain.RoomToken(r.RoomID)}
	if c.pendingRoom.Token == room.Token {
		room.BackendSession = c.pendingRoom.BackendSession
	}
	c.room = room
	c.pendingRoom = domain.Room{}
	st := c.resumeStateLocked()
	l := c.listener
	c.mu.Unlock()

	c.saveResume(st)
	c.logger.Info().Str("room", r.RoomID).Msg("joined room")
	l.OnRoomJoined(room, false)
}

func (c *Client) handleEvent(e *EventBody) {
	if e == nil {
		return
	}
	l := c.currentListener()

	switch e.Target {
	case "room":
		switch e.Type {
		case "join":
			l.OnParticipantsJoined(e.Join)
		case "leave":
			l.OnParticipantsLeft(e.Leave)
		case "message":
			if e.Message == nil {
				return
			}
			var kind struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(e.Message.Data, &kind); err != nil {
				c.logger.Error().Err(err).Msg("bad room message")
				return
			}
			l.OnRoomMessage(kind.Type, e.Message.Data)
		default:
			c.logger.Debug().Str("type", e.Type).Msg("unhandled room event")
		}
	case "participants":
		if e.Type == "update" && e.Update != nil {
			l.OnParticipantsUpdate(*e.Update)
		}
	default:
		c.logger.Debug().Str("target", e.Target).Str("type", e.Type).Msg("unhandled event")
	}
}
