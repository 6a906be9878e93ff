package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/callsignal/internal/domain"
)

// SendMessage relays m to the participant named in m.To.
func (c *Client) SendMessage(m Message) error {
	if m.To == "" {
		return ErrNoRecipient
	}
	if m.From == "" {
		m.From = c.SessionID()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return c.send(Envelope{
		Type: TypeMessage,
		Message: &MessageBody{
			Recipient: &Endpoint{Type: "session", SessionID: string(m.To)},
			Data:      data,
		},
	})
}

func (c *Client) handleMessage(body *MessageBody) {
	if body == nil {
		return
	}
	var m Message
	if err := json.Unmarshal(body.Data, &m); err != nil {
		c.logger.Error().Err(err).Msg("bad message payload")
		return
	}
	if body.Sender != nil && body.Sender.SessionID != "" {
		m.From = domain.SessionID(body.Sender.SessionID)
	}
	c.receiver.Dispatch(m)
}
