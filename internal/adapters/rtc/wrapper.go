package rtc

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrWrapperClosed = errors.New("rtc: wrapper closed")

// Signaler delivers negotiation messages to the remote side.
type Signaler interface {
	SendMessage(m signal.Message) error
}

// Events are translated peer connection events. They are not delivered
// once the wrapper has been closed locally.
type Events interface {
	OnICEStateChange(w *Wrapper, st domain.ICEConnectionState)
	OnStreamAvailable(w *Wrapper)
	OnRemoteTrack(w *Wrapper, track *webrtc.TrackRemote)
	OnPeerClosed(w *Wrapper)
	OnPublisherFailed(w *Wrapper)
	OnConnectionFailed(w *Wrapper)
	OnStatusMessage(w *Wrapper, m StatusMessage)
}

type NopEvents struct{}

func (NopEvents) OnICEStateChange(*Wrapper, domain.ICEConnectionState) {}
func (NopEvents) OnStreamAvailable(*Wrapper)                           {}
func (NopEvents) OnRemoteTrack(*Wrapper, *webrtc.TrackRemote)          {}
func (NopEvents) OnPeerClosed(*Wrapper)                                {}
func (NopEvents) OnPublisherFailed(*Wrapper)                           {}
func (NopEvents) OnConnectionFailed(*Wrapper)                          {}
func (NopEvents) OnStatusMessage(*Wrapper, StatusMessage)              {}

type Options struct {
	LocalSessionID domain.SessionID
	// RemoteSessionID is the local session itself for the MCU publisher.
	RemoteSessionID domain.SessionID
	StreamType      domain.VideoStreamType
	MCU             bool
	MCUPublisher    bool
	Nick            string
	MaxICERestarts  int
	Tracks          []webrtc.TrackLocal
	// LocalState is announced once when the status channel opens.
	LocalState func() core.LocalState
}

// HasInitiated decides which side of a mesh pair sends the offer.
func HasInitiated(local, remote domain.SessionID) bool { return local < remote }

// Wrapper owns one peer connection to one remote session and stream type.
type Wrapper struct {
	opts      Options
	pc        PeerConnection
	signaler  Signaler
	events    Events
	logger    zerolog.Logger
	initiator bool

	mu            sync.Mutex
	sid           string
	remoteApplied bool
	candidates    []webrtc.ICECandidateInit
	senders       []*webrtc.RTPSender
	restarts      int
	closed        bool

	dcMu    sync.Mutex
	channel DataChannel
	dcOpen  bool
	pending []StatusMessage
}

func NewWrapper(factory Factory, cfg webrtc.Configuration, opts Options, signaler Signaler, events Events) (*Wrapper, error) {
	if events == nil {
		events = NopEvents{}
	}
	if opts.StreamType == "" {
		opts.StreamType = domain.StreamVideo
	}
	pc, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	w := &Wrapper{
		opts:     opts,
		pc:       pc,
		signaler: signaler,
		events:   events,
		sid:      uuid.NewString(),
		logger: log.With().
			Str("module", "rtc").
			Str("sid", string(opts.RemoteSessionID)).
			Str("stream_type", string(opts.StreamType)).
			Logger(),
	}
	if opts.MCU {
		w.initiator = opts.MCUPublisher
	} else {
		w.initiator = HasInitiated(opts.LocalSessionID, opts.RemoteSessionID)
	}

	pc.OnICECandidate(w.onLocalCandidate)
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		w.onICEState(TranslateICEState(s))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		w.logger.Info().Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("OnTrack received")
		if !w.isClosed() {
			w.events.OnRemoteTrack(w, track)
		}
	})
	pc.OnDataChannel(func(dc DataChannel) {
		if dc.Label() != StatusChannelLabel {
			w.logger.Debug().Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		w.attachChannel(dc)
	})

	for _, t := range opts.Tracks {
		s, err := pc.AddTrack(t)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		w.senders = append(w.senders, s)
	}

	if w.initiator || opts.MCU {
		dc, err := pc.CreateDataChannel(StatusChannelLabel)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		w.attachChannel(dc)
	}
	return w, nil
}

func (w *Wrapper) SessionID() domain.SessionID        { return w.opts.RemoteSessionID }
func (w *Wrapper) StreamType() domain.VideoStreamType { return w.opts.StreamType }
func (w *Wrapper) IsMCUPublisher() bool               { return w.opts.MCUPublisher }
func (w *Wrapper) Initiator() bool                    { return w.initiator }

// Start begins negotiation: the initiator offers, an MCU subscriber asks for an offer,
// a mesh responder waits.
func (w *Wrapper) Start() {
	switch {
	case w.initiator:
		w.negotiate(false)
	case w.opts.MCU:
		w.signal(signal.MsgRequestOffer, nil)
	}
}

// HandleSignalingMessage applies offers, answers and candidates from the remote side.
func (w *Wrapper) HandleSignalingMessage(m signal.Message) {
	if w.isClosed() {
		return
	}
	switch m.Type {
	case signal.MsgOffer, signal.MsgAnswer:
		var p signal.SDPPayload
		if err := m.Decode(&p); err != nil {
			w.logger.Error().Err(err).Msg("bad sdp payload")
			return
		}
		if p.Type == "" {
			p.Type = m.Type
		}
		w.applyRemote(p, m.Sid)
	case signal.MsgCandidate:
		var p signal.CandidatePayload
		if err := m.Decode(&p); err != nil {
			w.logger.Error().Err(err).Msg("bad candidate payload")
			return
		}
		w.addCandidate(webrtc.ICECandidateInit{
			Candidate:     p.Candidate.Candidate,
			SDPMid:        p.Candidate.SDPMid,
			SDPMLineIndex: p.Candidate.SDPMLineIndex,
		})
	case signal.MsgEndOfCandidates:
		w.logger.Debug().Msg("remote end of candidates")
	default:
		w.logger.Debug().Str("type", m.Type).Msg("unhandled peer message")
	}
}

func (w *Wrapper) applyRemote(p signal.SDPPayload, sid string) {
	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Type), SDP: w.preferred(p.SDP)}
	if err := w.pc.SetRemoteDescription(desc); err != nil {
		w.logger.Error().Err(err).Str("type", p.Type).Msg("set remote description")
		return
	}
	if sid != "" {
		w.mu.Lock()
		w.sid = sid
		w.mu.Unlock()
	}
	if desc.Type == webrtc.SDPTypeOffer {
		w.answer()
	}
	w.drainCandidates()
}

func (w *Wrapper) negotiate(iceRestart bool) {
	offer, err := w.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		w.logger.Error().Err(err).Msg("create offer")
		return
	}
	offer.SDP = w.preferred(offer.SDP)
	w.signal(signal.MsgOffer, signal.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP, Nick: w.opts.Nick})
	if err := w.pc.SetLocalDescription(offer); err != nil {
		w.logger.Error().Err(err).Msg("set local offer")
		return
	}
	w.drainCandidates()
}

func (w *Wrapper) answer() {
	ans, err := w.pc.CreateAnswer(nil)
	if err != nil {
		w.logger.Error().Err(err).Msg("create answer")
		return
	}
	ans.SDP = w.preferred(ans.SDP)
	w.signal(signal.MsgAnswer, signal.SDPPayload{Type: ans.Type.String(), SDP: ans.SDP, Nick: w.opts.Nick})
	if err := w.pc.SetLocalDescription(ans); err != nil {
		w.logger.Error().Err(err).Msg("set local answer")
	}
}

func (w *Wrapper) preferred(raw string) string {
	out, err := PreferCodec(raw, PreferredVideoCodec)
	if err != nil {
		w.logger.Warn().Err(err).Msg("codec preference not applied")
		return raw
	}
	return out
}

// addCandidate queues until the remote description is applied, then adds directly.
func (w *Wrapper) addCandidate(c webrtc.ICECandidateInit) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if !w.remoteApplied {
		w.candidates = append(w.candidates, c)
		return
	}
	if err := w.pc.AddICECandidate(c); err != nil {
		w.logger.Error().Err(err).Msg("add ice candidate")
	}
}

// drainCandidates adds queued candidates in arrival order once a remote description exists.
func (w *Wrapper) drainCandidates() {
	if w.pc.RemoteDescription() == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.remoteApplied = true
	for _, c := range w.candidates {
		if err := w.pc.AddICECandidate(c); err != nil {
			w.logger.Error().Err(err).Msg("add queued ice candidate")
		}
	}
	w.candidates = nil
}

func (w *Wrapper) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		w.logger.Debug().Msg("candidate gathering complete")
		return
	}
	init := c.ToJSON()
	w.signal(signal.MsgCandidate, signal.CandidatePayload{Candidate: signal.CandidateInfo{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}})
}

func (w *Wrapper) onICEState(st domain.ICEConnectionState) {
	if w.isClosed() {
		return
	}
	w.logger.Info().Str("ice_state", st.String()).Msg("ICE state")
	w.events.OnICEStateChange(w, st)

	switch st {
	case domain.ICEConnected:
		w.mu.Lock()
		w.restarts = 0
		w.mu.Unlock()
		if !w.opts.MCUPublisher {
			w.events.OnStreamAvailable(w)
		}
	case domain.ICEClosed:
		w.events.OnPeerClosed(w)
	case domain.ICEFailed:
		if w.opts.MCUPublisher {
			w.events.OnPublisherFailed(w)
			return
		}
		w.mu.Lock()
		retry := w.restarts < w.opts.MaxICERestarts
		if retry {
			w.restarts++
		}
		attempt := w.restarts
		w.mu.Unlock()

		if !retry {
			w.logger.Warn().Int("restarts", attempt).Msg("connection failed")
			w.events.OnConnectionFailed(w)
			return
		}
		w.logger.Info().Int("attempt", attempt).Msg("ICE restart")
		switch {
		case w.initiator:
			w.negotiate(true)
		case w.opts.MCU:
			w.signal(signal.MsgRequestOffer, nil)
		}
	}
}

func (w *Wrapper) signal(typ string, payload any) {
	m, err := signal.NewMessage(typ, w.opts.RemoteSessionID, payload)
	if err != nil {
		w.logger.Error().Err(err).Str("type", typ).Msg("encode signaling message")
		return
	}
	m.RoomType = string(w.opts.StreamType)
	w.mu.Lock()
	m.Sid = w.sid
	w.mu.Unlock()
	if err := w.signaler.SendMessage(m); err != nil {
		w.logger.Error().Err(err).Str("type", typ).Msg("send signaling message")
	}
}

func (w *Wrapper) attachChannel(dc DataChannel) {
	w.dcMu.Lock()
	primary := w.channel == nil
	if primary {
		w.channel = dc
	}
	w.dcMu.Unlock()

	dc.OnMessage(w.onChannelMessage)
	if !primary {
		return
	}
	dc.OnOpen(w.onChannelOpen)
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		w.onChannelOpen()
	}
}

// onChannelOpen flushes what was sent before the channel opened, then
// announces the local media state.
func (w *Wrapper) onChannelOpen() {
	w.dcMu.Lock()
	defer w.dcMu.Unlock()
	if w.dcOpen || w.channel == nil {
		return
	}
	w.dcOpen = true

	queued := w.pending
	w.pending = nil
	if w.opts.LocalState != nil {
		queued = append(queued, announcement(w.opts.LocalState())...)
	}
	for _, m := range queued {
		if err := w.sendLocked(m); err != nil {
			w.logger.Error().Err(err).Str("type", m.Type).Msg("status send")
		}
	}
	w.logger.Debug().Int("flushed", len(queued)).Msg("status channel open")
}

// SendStatus writes m on the status channel, or queues it until the channel opens.
func (w *Wrapper) SendStatus(m StatusMessage) error {
	if w.isClosed() {
		return ErrWrapperClosed
	}
	w.dcMu.Lock()
	defer w.dcMu.Unlock()
	if w.channel == nil || !w.dcOpen {
		w.pending = append(w.pending, m)
		return nil
	}
	return w.sendLocked(m)
}

func (w *Wrapper) sendLocked(m StatusMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return w.channel.SendText(string(data))
}

func (w *Wrapper) onChannelMessage(msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		w.logger.Debug().Int("bytes", len(msg.Data)).Msg("binary status frame ignored")
		return
	}
	var m StatusMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		w.logger.Error().Err(err).Msg("bad status frame")
		return
	}
	if w.isClosed() {
		return
	}
	w.events.OnStatusMessage(w, m)
}

func (w *Wrapper) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close closes the status channel, detaches local tracks and closes the peer connection.
func (w *Wrapper) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	senders := w.senders
	w.senders = nil
	w.candidates = nil
	w.mu.Unlock()

	w.dcMu.Lock()
	ch := w.channel
	w.channel = nil
	w.dcOpen = false
	w.pending = nil
	w.dcMu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("close status channel")
		}
	}
	for _, s := range senders {
		if err := w.pc.RemoveTrack(s); err != nil {
			w.logger.Warn().Err(err).Msg("remove track")
		}
	}
	if err := w.pc.Close(); err != nil {
		w.logger.Error().Err(err).Msg("close error")
	} else {
		w.logger.Info().Msg("closed")
	}
}

func TranslateICEState(s webrtc.ICEConnectionState) domain.ICEConnectionState {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return domain.ICEChecking
	case webrtc.ICEConnectionStateConnected:
		return domain.ICEConnected
	case webrtc.ICEConnectionStateCompleted:
		return domain.ICECompleted
	case webrtc.ICEConnectionStateFailed:
		return domain.ICEFailed
	case webrtc.ICEConnectionStateDisconnected:
		return domain.ICEDisconnected
	case webrtc.ICEConnectionStateClosed:
		return domain.ICEClosed
	}
	return domain.ICENew
}
