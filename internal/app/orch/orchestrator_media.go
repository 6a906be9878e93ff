package orch

import (
	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ensureWrapper returns the wrapper for (sid, st), creating and registering
// it when missing. created reports whether the caller got a fresh one.
func (c *Call) ensureWrapper(sid domain.SessionID, st domain.VideoStreamType, publisher bool) (*rtc.Wrapper, bool, error) {
	key := wrapperKey{sid: sid, st: st}
	c.mu.RLock()
	if w := c.wrappers[key]; w != nil {
		c.mu.RUnlock()
		return w, false, nil
	}
	opts := rtc.Options{
		LocalSessionID:  c.ownSID,
		RemoteSessionID: sid,
		StreamType:      st,
		MCU:             c.mcu,
		MCUPublisher:    publisher,
		Nick:            c.cfg.Nick,
		MaxICERestarts:  c.cfg.MaxICERestarts,
		LocalState:      c.local.State,
	}
	// Subscribers only receive; screens are received, never sent from here.
	if st == domain.StreamVideo && (publisher || !c.mcu) {
		opts.Tracks = c.cfg.Tracks
	}
	c.mu.RUnlock()

	w, err := rtc.NewWrapper(c.factory, c.cfg.ICE, opts, c.sig, c)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	if existing := c.wrappers[key]; existing != nil || !c.inCall {
		c.mu.Unlock()
		w.Close()
		if existing == nil {
			return nil, false, rtc.ErrWrapperClosed
		}
		return existing, false, nil
	}
	c.wrappers[key] = w
	c.mu.Unlock()

	c.sig.Receiver().AddPeerHandler(sid, st, w)
	return w, true, nil
}

func (c *Call) startPublisher() {
	c.mu.RLock()
	own := c.ownSID
	c.mu.RUnlock()
	w, created, err := c.ensureWrapper(own, domain.StreamVideo, true)
	if err != nil {
		c.logger.Error().Err(err).Msg("publisher connection")
		return
	}
	if created {
		w.Start()
	}
}

// dropWrapper unregisters w if it is still the current wrapper for its key.
func (c *Call) dropWrapper(w *rtc.Wrapper) bool {
	key := wrapperKey{sid: w.SessionID(), st: w.StreamType()}
	c.mu.Lock()
	if c.wrappers[key] != w {
		c.mu.Unlock()
		return false
	}
	delete(c.wrappers, key)
	c.mu.Unlock()

	c.sig.Receiver().RemovePeerHandler(key.sid, key.st, w)
	w.Close()
	return true
}

// restartPublisher replaces a failed publisher with a fresh connection.
func (c *Call) restartPublisher(w *rtc.Wrapper) {
	if !c.dropWrapper(w) {
		return
	}
	c.logger.Warn().Msg("publisher failed, reconnecting")
	c.startPublisher()
}

// HandleSignalingMessage receives offers no wrapper claimed: a participant
// starting a connection towards us, or sharing a screen.
func (c *Call) HandleSignalingMessage(m signal.Message) {
	if m.Type != signal.MsgOffer {
		return
	}
	c.mu.RLock()
	inCall := c.inCall
	_, known := c.participants[m.From]
	c.mu.RUnlock()
	if !inCall {
		c.logger.Debug().Str("from", string(m.From)).Msg("offer outside of call ignored")
		return
	}
	if !known {
		c.addParticipant(domain.Member{SessionID: m.From, InCall: domain.CallFlagInCall})
	}
	w, _, err := c.ensureWrapper(m.From, m.StreamType(), false)
	if err != nil {
		c.logger.Error().Err(err).Str("from", string(m.From)).Msg("peer connection for offer")
		return
	}
	w.HandleSignalingMessage(m)
}

func (c *Call) OnICEStateChange(w *rtc.Wrapper, st domain.ICEConnectionState) {
	if w.IsMCUPublisher() || w.StreamType() != domain.StreamVideo {
		return
	}
	if p := c.participant(w.SessionID()); p != nil {
		p.SetICEConnectionState(st)
	}
}

func (c *Call) OnStreamAvailable(w *rtc.Wrapper) {
	c.logger.Debug().Str("sid", string(w.SessionID())).Str("stream_type", string(w.StreamType())).Msg("stream available")
}

func (c *Call) OnRemoteTrack(w *rtc.Wrapper, track *webrtc.TrackRemote) {
	if w.StreamType() == domain.StreamScreen {
		if p := c.participant(w.SessionID()); p != nil {
			p.SetScreenAvailable(true)
		}
	}
	c.ui.OnRemoteTrack(w.SessionID(), w.StreamType(), track)
}

// OnPeerClosed and OnPublisherFailed close connections, which must not
// happen on the connection's own callback goroutine.
func (c *Call) OnPeerClosed(w *rtc.Wrapper) {
	go c.peerClosed(w)
}

func (c *Call) peerClosed(w *rtc.Wrapper) {
	if !c.dropWrapper(w) {
		return
	}
	if w.StreamType() == domain.StreamScreen {
		if p := c.participant(w.SessionID()); p != nil {
			p.SetScreenAvailable(false)
		}
	}
}

func (c *Call) OnPublisherFailed(w *rtc.Wrapper) {
	go c.restartPublisher(w)
}

func (c *Call) OnConnectionFailed(w *rtc.Wrapper) {
	c.ui.OnConnectionFailed(w.SessionID(), w.StreamType())
}

// OnStatusMessage applies a remote participant's data channel status.
func (c *Call) OnStatusMessage(w *rtc.Wrapper, m rtc.StatusMessage) {
	if w.IsMCUPublisher() {
		return
	}
	p := c.participant(w.SessionID())
	if p == nil {
		return
	}
	switch m.Type {
	case rtc.StatusAudioOn, rtc.StatusAudioOff:
		p.SetAudioAvailable(m.Type == rtc.StatusAudioOn)
	case rtc.StatusVideoOn, rtc.StatusVideoOff:
		p.SetVideoAvailable(m.Type == rtc.StatusVideoOn)
	case rtc.StatusSpeaking, rtc.StatusStoppedSpeaking:
		p.SetSpeaking(m.Type == rtc.StatusSpeaking)
	case rtc.StatusNickChanged:
		n, err := m.Nick()
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad nick payload")
			return
		}
		if n.UserID != "" {
			p.SetUserID(domain.UserID(n.UserID))
		}
		p.SetNick(n.Name)
	default:
		c.logger.Debug().Str("type", m.Type).Msg("unknown status message")
	}
}
