package signal

import "github.com/dkeye/callsignal/internal/domain"

func (c *Client) handleHello(conn *connection, h *HelloBody) {
	if h == nil {
		c.logger.Warn().Msg("hello without body")
		return
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	resumed := c.resumeID != ""
	c.resumeID = h.ResumeID
	c.sessionID = domain.SessionID(h.SessionID)
	c.features = nil
	if h.Server != nil {
		c.features = append(c.features, h.Server.Features...)
	}
	c.state = StateEstablished
	conn.established = true
	for _, data := range c.queue {
		conn.out.push(frame{data: data})
	}
	flushed := len(c.queue)
	c.queue = nil
	room := c.room
	st := c.resumeStateLocked()
	l := c.listener
	c.mu.Unlock()

	c.saveResume(st)
	c.logger.Info().
		Str("sid", h.SessionID).
		Bool("resumed", resumed).
		Int("flushed", flushed).
		Msg("session established")

	l.OnConnected(resumed)
	if resumed && !room.Empty() {
		l.OnRoomJoined(room, true)
	}
}

func (c *Client) handleError(conn *connection, e *ErrorBody) {
	if e == nil {
		c.logger.Warn().Msg("error without body")
		return
	}

	switch e.Code {
	case ErrCodeNoSuchSession:
		c.mu.Lock()
		c.resumeID = ""
		c.sessionID = ""
		c.room = domain.Room{}
		c.pendingRoom = domain.Room{}
		c.restartNow = true
		l := c.listener
		c.mu.Unlock()

		c.logger.Warn().Msg("resume rejected, starting a fresh session")
		c.deleteResume()
		c.dropConnection(conn, errSessionInvalidated)
		l.OnSessionInvalidated()
	case ErrCodeHelloExpected:
		c.mu.Lock()
		c.restartNow = true
		c.mu.Unlock()

		c.logger.Warn().Msg("server expected hello, reconnecting")
		c.dropConnection(conn, errHelloExpected)
	default:
		c.logger.Warn().Str("code", e.Code).Str("message", e.Message).Msg("server error")
	}
}

// handleBye ends the server session; the next connect signs in from scratch.
func (c *Client) handleBye(conn *connection) {
	c.mu.Lock()
	c.resumeID = ""
	c.sessionID = ""
	c.room = domain.Room{}
	c.pendingRoom = domain.Room{}
	c.restartNow = true
	l := c.listener
	c.mu.Unlock()

	c.logger.Info().Msg("server said bye")
	c.deleteResume()
	c.dropConnection(conn, errBye)
	l.OnSessionInvalidated()
}
