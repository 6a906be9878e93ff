package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

func (c *Client) writePump(ctx context.Context, conn *connection) {
	var pending []frame
	defer func() {
		pending = append(pending, conn.out.takeAll()...)
		c.requeue(payloads(pending))
		close(conn.writerDone)
	}()

	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		t := time.NewTicker(c.opts.PingPeriod)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case <-conn.closed:
			return
		case <-ping:
			if err := c.write(conn, websocket.PingMessage, nil); err != nil {
				c.logger.Error().Err(err).Msg("writePump ping")
				c.dropConnection(conn, err)
				return
			}
		case <-conn.out.notify:
			pending = conn.out.takeAll()
			for len(pending) > 0 {
				f := pending[0]
				if err := c.write(conn, websocket.TextMessage, f.data); err != nil {
					c.logger.Error().Err(err).Msg("writePump write error")
					c.dropConnection(conn, err)
					return
				}
				pending = pending[1:]
				if f.final {
					conn.markFinal()
				}
			}
		}
	}
}

func (c *Client) write(conn *connection, mt int, data []byte) error {
	if err := conn.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.conn.WriteMessage(mt, data)
}

// pongWait is how long the read side waits for any frame or pong; zero
// disables the deadline.
func (c *Client) pongWait() time.Duration {
	return c.opts.PingPeriod * 3 / 2
}

func (c *Client) readPump(conn *connection) {
	wait := c.pongWait()
	extend := func() error {
		if wait <= 0 {
			return nil
		}
		return conn.conn.SetReadDeadline(time.Now().Add(wait))
	}
	if err := extend(); err != nil {
		c.dropConnection(conn, err)
		return
	}
	conn.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			c.dropConnection(conn, err)
			return
		}
		if err := extend(); err != nil {
			c.dropConnection(conn, err)
			return
		}
		c.handleFrame(conn, data)
	}
}

func (c *Client) handleFrame(conn *connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Error().Err(err).Msg("bad json")
		return
	}
	if !c.isCurrent(conn) {
		c.logger.Debug().Str("type", env.Type).Msg("frame from stale connection")
		return
	}

	switch env.Type {
	case TypeHello:
		c.handleHello(conn, env.Hello)
	case TypeError:
		c.handleError(conn, env.Error)
	case TypeRoom:
		c.handleRoom(env.Room)
	case TypeEvent:
		c.handleEvent(env.Event)
	case TypeMessage:
		c.handleMessage(env.Message)
	case TypeBye:
		c.handleBye(conn)
	default:
		c.logger.Debug().Str("type", env.Type).Msg("unknown frame")
	}
}

// send writes env on an established session or queues it for the next one.
func (c *Client) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateEstablished && c.conn != nil {
		c.conn.out.push(frame{data: data})
		c.mu.Unlock()
		return nil
	}
	c.queue = append(c.queue, data)
	n := len(c.queue)
	c.mu.Unlock()

	if c.opts.QueueWarn > 0 && n%c.opts.QueueWarn == 0 {
		c.logger.Warn().Int("queued", n).Msg("offline queue growing")
	}
	c.nudge()
	return nil
}
