package orch

import (
	"time"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
)

// participantHandler applies the participant-scoped signaling messages of
// one remote session.
type participantHandler struct {
	call *Call
	p    *core.CallParticipant
}

func (h *participantHandler) HandleSignalingMessage(m signal.Message) {
	logger := h.call.logger.With().Str("sid", string(m.From)).Str("type", m.Type).Logger()
	switch m.Type {
	case signal.MsgMute, signal.MsgUnmute:
		var mp signal.MediaPayload
		if err := m.Decode(&mp); err != nil {
			logger.Warn().Err(err).Msg("bad media payload")
			return
		}
		on := m.Type == signal.MsgUnmute
		switch mp.Name {
		case "audio":
			h.p.SetAudioAvailable(on)
		case "video":
			h.p.SetVideoAvailable(on)
		}
	case signal.MsgNickChanged:
		var n signal.NickPayload
		if err := m.Decode(&n); err != nil {
			logger.Warn().Err(err).Msg("bad nick payload")
			return
		}
		h.p.SetNick(n.Name)
	case signal.MsgRaiseHand:
		var rh domain.RaisedHand
		if err := m.Decode(&rh); err != nil {
			logger.Warn().Err(err).Msg("bad raise hand payload")
			return
		}
		h.p.SetRaisedHand(rh)
	case signal.MsgReaction:
		var r signal.ReactionPayload
		if err := m.Decode(&r); err != nil || r.Reaction == "" {
			logger.Warn().Err(err).Msg("bad reaction payload")
			return
		}
		h.p.EmitReaction(r.Reaction)
	case signal.MsgUnshareScreen:
		h.call.mu.RLock()
		w := h.call.wrappers[wrapperKey{sid: m.From, st: domain.StreamScreen}]
		h.call.mu.RUnlock()
		if w != nil {
			h.call.dropWrapper(w)
		}
		h.p.SetScreenAvailable(false)
	default:
		logger.Debug().Msg("unhandled participant message")
	}
}

func (c *Call) SetAudioEnabled(on bool) { c.local.SetAudioEnabled(on) }
func (c *Call) SetVideoEnabled(on bool) { c.local.SetVideoEnabled(on) }
func (c *Call) SetSpeaking(on bool)     { c.local.SetSpeaking(on) }

// RaiseHand tells every participant about the local hand state.
func (c *Call) RaiseHand(raised bool) error {
	return c.sendToAll(signal.MsgRaiseHand, domain.NewRaisedHand(raised, time.Now()))
}

func (c *Call) SendReaction(reaction string) error {
	return c.sendToAll(signal.MsgReaction, signal.ReactionPayload{Reaction: reaction})
}

// SetNick announces a new display name over both data channels and signaling.
func (c *Call) SetNick(nick string) error {
	c.mu.Lock()
	c.cfg.Nick = nick
	data := c.data
	c.mu.Unlock()

	if data != nil {
		m, err := rtc.NewStatusMessage(rtc.StatusNickChanged, signal.NickPayload{Name: nick})
		if err != nil {
			return err
		}
		data.SendToAll(m)
	}
	return c.sendToAll(signal.MsgNickChanged, signal.NickPayload{Name: nick})
}

func (c *Call) sendToAll(typ string, payload any) error {
	c.mu.RLock()
	s := c.signaling
	inCall := c.inCall
	c.mu.RUnlock()
	if !inCall || s == nil {
		return ErrNotInCall
	}
	m, err := signal.NewMessage(typ, "", payload)
	if err != nil {
		return err
	}
	s.SendToAll(m)
	return nil
}
