package orch

import (
	"encoding/json"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/app/broadcast"
	"github.com/dkeye/callsignal/internal/app/sender"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
)

func (c *Call) OnConnected(resumed bool) {
	c.logger.Info().Bool("resumed", resumed).Str("sid", string(c.sig.SessionID())).Msg("signaling connected")
}

func (c *Call) OnDisconnected(err error) {
	c.logger.Warn().Err(err).Msg("signaling disconnected")
}

// OnSessionInvalidated drops everything bound to the old session and
// joins the room again with the new one.
func (c *Call) OnSessionInvalidated() {
	c.logger.Warn().Msg("session invalidated, rejoining")
	c.teardown()
	c.mu.RLock()
	ended := c.ended
	c.mu.RUnlock()
	if ended {
		return
	}
	if c.rejoins != nil && !c.rejoins.Allow(c.cfg.Room.Token) {
		c.logger.Error().Int("limit", c.cfg.RejoinLimit).Msg("too many rejoins")
		c.end("rejoin limit reached")
		return
	}
	if err := c.sig.JoinRoom(c.cfg.Room.Token, c.cfg.Room.BackendSession); err != nil {
		c.logger.Error().Err(err).Msg("rejoin failed")
	}
}

func (c *Call) OnRoomJoined(room domain.Room, resumed bool) {
	if room.Token != c.cfg.Room.Token {
		c.logger.Warn().Str("joined", string(room.Token)).Msg("joined unexpected room")
		return
	}
	c.mu.RLock()
	inCall := c.inCall
	c.mu.RUnlock()
	if resumed && inCall {
		c.logger.Info().Msg("call resumed")
		return
	}
	c.start(c.sig.HasFeature(signal.FeatureMCU))
}

func (c *Call) OnRoomLeft(room domain.Room) {
	if room.Token != c.cfg.Room.Token {
		return
	}
	c.end("room left")
}

// OnParticipantsJoined remembers who each room session is so call
// participants added later start with a user id and nick.
func (c *Call) OnParticipantsJoined(sessions []signal.EventSession) {
	for _, s := range sessions {
		id := roomIdentity{userID: s.UserID, nick: s.DisplayName()}
		c.logger.Debug().Str("sid", string(s.SessionID)).Str("user", string(s.UserID)).Msg("joined room")

		c.mu.Lock()
		c.identities[s.SessionID] = id
		p := c.participants[s.SessionID]
		c.mu.Unlock()

		if p != nil {
			id.apply(p)
		}
	}
}

func (c *Call) OnParticipantsLeft(sids []domain.SessionID) {
	for _, sid := range sids {
		c.mu.Lock()
		delete(c.identities, sid)
		c.mu.Unlock()
		c.removeParticipant(sid)
	}
}

// OnParticipantsUpdate reconciles call membership with the in-call flags.
func (c *Call) OnParticipantsUpdate(u signal.ParticipantsUpdate) {
	if u.All && !u.InCall.InCall() {
		c.end("call ended for everyone")
		return
	}
	own := c.sig.SessionID()
	for _, m := range u.Users {
		if m.SessionID == "" || m.SessionID == own {
			continue
		}
		if m.InCall.InCall() {
			c.addParticipant(m)
		} else {
			c.removeParticipant(m.SessionID)
		}
	}
}

func (c *Call) OnRoomMessage(kind string, data json.RawMessage) {
	c.ui.OnRoomMessage(kind, data)
}

// start builds the senders and the broadcaster for the current session and,
// with a relay, the publisher connection.
func (c *Call) start(mcu bool) {
	c.mu.Lock()
	if c.inCall {
		c.mu.Unlock()
		return
	}
	c.inCall = true
	c.ended = false
	c.mcu = mcu
	c.ownSID = c.sig.SessionID()
	c.signaling = sender.NewSignaling(c.sig, c.participantIDs)
	if mcu {
		c.data = sender.NewRelay(c.peers)
		c.broadcaster = broadcast.NewRelay(c.local, c.data, c.sched)
	} else {
		c.data = sender.NewMesh(c.peers)
		c.broadcaster = broadcast.NewMesh(c.local, c.data, c.signaling)
	}
	own := c.ownSID
	c.mu.Unlock()

	c.logger.Info().Bool("mcu", mcu).Str("sid", string(own)).Msg("call started")
	if mcu {
		c.startPublisher()
	}
}

// teardown closes every connection and forgets every participant.
type roomIdentity struct {
	userID domain.UserID
	nick   string
}

func (id roomIdentity) apply(p *core.CallParticipant) {
	if id.userID != "" {
		p.SetUserID(id.userID)
	}
	if id.nick != "" {
		p.SetNick(id.nick)
	}
}

func (c *Call) teardown() {
	c.mu.Lock()
	b := c.broadcaster
	c.broadcaster = nil
	c.inCall = false
	ws := c.wrappers
	c.wrappers = make(map[wrapperKey]*rtc.Wrapper)
	ps := c.participants
	c.participants = make(map[domain.SessionID]*core.CallParticipant)
	hs := c.handlers
	c.handlers = make(map[domain.SessionID]*participantHandler)
	c.mu.Unlock()

	if b != nil {
		b.Destroy()
	}
	recv := c.sig.Receiver()
	for k, w := range ws {
		recv.RemovePeerHandler(k.sid, k.st, w)
		w.Close()
	}
	for sid, h := range hs {
		recv.RemoveParticipantHandler(sid, h)
	}
	for _, p := range ps {
		c.ui.OnParticipantRemoved(p)
	}
}

func (c *Call) end(reason string) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	c.teardown()
	c.logger.Info().Str("reason", reason).Msg("call ended")
	c.ui.OnCallEnded(reason)
}

func (c *Call) addParticipant(m domain.Member) {
	c.mu.Lock()
	if !c.inCall || c.ended {
		c.mu.Unlock()
		return
	}
	p, exists := c.participants[m.SessionID]
	var h *participantHandler
	if !exists {
		p = core.NewCallParticipant(m.SessionID)
		h = &participantHandler{call: c, p: p}
		c.participants[m.SessionID] = p
		c.handlers[m.SessionID] = h
	}
	id, known := c.identities[m.SessionID]
	b := c.broadcaster
	c.mu.Unlock()

	if known && !exists {
		id.apply(p)
	}
	if m.UserID != "" {
		p.SetUserID(m.UserID)
	}
	if m.Nick != "" {
		p.SetNick(m.Nick)
	}
	p.SetInternal(m.Internal)
	if exists {
		return
	}

	c.logger.Info().Str("sid", string(m.SessionID)).Str("user", string(m.UserID)).Msg("participant added")
	c.sig.Receiver().AddParticipantHandler(m.SessionID, h)
	if w, created, err := c.ensureWrapper(m.SessionID, domain.StreamVideo, false); err != nil {
		c.logger.Error().Err(err).Str("sid", string(m.SessionID)).Msg("peer connection")
	} else if created {
		w.Start()
	}
	if b != nil {
		b.HandleCallParticipantAdded(p)
	}
	c.ui.OnParticipantAdded(p)
}

func (c *Call) removeParticipant(sid domain.SessionID) {
	c.mu.Lock()
	p := c.participants[sid]
	if p == nil {
		c.mu.Unlock()
		return
	}
	delete(c.participants, sid)
	h := c.handlers[sid]
	delete(c.handlers, sid)
	var ws []*rtc.Wrapper
	for k, w := range c.wrappers {
		if k.sid == sid {
			ws = append(ws, w)
			delete(c.wrappers, k)
		}
	}
	b := c.broadcaster
	c.mu.Unlock()

	recv := c.sig.Receiver()
	for _, w := range ws {
		recv.RemovePeerHandler(sid, w.StreamType(), w)
		w.Close()
	}
	if h != nil {
		recv.RemoveParticipantHandler(sid, h)
	}
	if b != nil {
		b.HandleCallParticipantRemoved(p)
	}
	c.logger.Info().Str("sid", string(sid)).Msg("participant removed")
	c.ui.OnParticipantRemoved(p)
}
