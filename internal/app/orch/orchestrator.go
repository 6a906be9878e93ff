// Package orch owns one call: its participants, their peer connections and
// the local state broadcaster, driven by control-connection events.
package orch

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/app/broadcast"
	"github.com/dkeye/callsignal/internal/app/sender"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotInCall = errors.New("orch: not in a call")

// Signaling is the part of the control client a call uses.
type Signaling interface {
	SendMessage(m signal.Message) error
	JoinRoom(token domain.RoomToken, backendSession string) error
	LeaveRoom() error
	SessionID() domain.SessionID
	HasFeature(f string) bool
	Receiver() *signal.Receiver
}

// Listener is the UI side of a call.
type Listener interface {
	OnParticipantAdded(p *core.CallParticipant)
	OnParticipantRemoved(p *core.CallParticipant)
	OnRemoteTrack(sid domain.SessionID, st domain.VideoStreamType, track *webrtc.TrackRemote)
	OnConnectionFailed(sid domain.SessionID, st domain.VideoStreamType)
	OnRoomMessage(kind string, data json.RawMessage)
	OnCallEnded(reason string)
}

type NopListener struct{}

func (NopListener) OnParticipantAdded(*core.CallParticipant)                                    {}
func (NopListener) OnParticipantRemoved(*core.CallParticipant)                                  {}
func (NopListener) OnRemoteTrack(domain.SessionID, domain.VideoStreamType, *webrtc.TrackRemote) {}
func (NopListener) OnConnectionFailed(domain.SessionID, domain.VideoStreamType)                 {}
func (NopListener) OnRoomMessage(string, json.RawMessage)                                       {}
func (NopListener) OnCallEnded(string)                                                          {}

type Config struct {
	Room           domain.Room
	Nick           string
	MaxICERestarts int
	// RejoinLimit bounds rejoins after session invalidation within
	// RejoinInterval. Zero disables the bound.
	RejoinLimit    int
	RejoinInterval time.Duration
	ICE            webrtc.Configuration
	// Tracks are the local media published to every peer (mesh) or to the relay.
	Tracks []webrtc.TrackLocal
}

type wrapperKey struct {
	sid domain.SessionID
	st  domain.VideoStreamType
}

// Call implements signal.Listener and rtc.Events and answers offers from
// sessions it has no wrapper for yet.
type Call struct {
	cfg     Config
	sig     Signaling
	factory rtc.Factory
	local   *core.LocalParticipant
	sched   broadcast.Scheduler
	ui      Listener
	logger  zerolog.Logger
	rejoins *signal.RoomRateLimiter

	mu           sync.RWMutex
	participants map[domain.SessionID]*core.CallParticipant
	handlers     map[domain.SessionID]*participantHandler
	identities   map[domain.SessionID]roomIdentity
	wrappers     map[wrapperKey]*rtc.Wrapper
	broadcaster  broadcast.LocalStateBroadcaster
	signaling    sender.SignalingSender
	data         sender.DataSender
	ownSID       domain.SessionID
	mcu          bool
	inCall       bool
	ended        bool
}

var (
	_ signal.Listener       = (*Call)(nil)
	_ signal.MessageHandler = (*Call)(nil)
	_ rtc.Events            = (*Call)(nil)
)

func NewCall(cfg Config, sig Signaling, factory rtc.Factory, local *core.LocalParticipant, sched broadcast.Scheduler, ui Listener) *Call {
	if ui == nil {
		ui = NopListener{}
	}
	if sched == nil {
		sched = broadcast.SystemScheduler{}
	}
	c := &Call{
		cfg:          cfg,
		sig:          sig,
		factory:      factory,
		local:        local,
		sched:        sched,
		ui:           ui,
		logger:       log.With().Str("module", "orch").Str("room", string(cfg.Room.Token)).Logger(),
		participants: make(map[domain.SessionID]*core.CallParticipant),
		handlers:     make(map[domain.SessionID]*participantHandler),
		identities:   make(map[domain.SessionID]roomIdentity),
		wrappers:     make(map[wrapperKey]*rtc.Wrapper),
	}
	if cfg.RejoinLimit > 0 {
		interval := cfg.RejoinInterval
		if interval <= 0 {
			interval = time.Minute
		}
		c.rejoins = signal.NewRoomRateLimiter(cfg.RejoinLimit, interval)
	}
	sig.Receiver().SetOfferHandler(c)
	return c
}

func (c *Call) Local() *core.LocalParticipant { return c.local }

// Join asks the control connection to enter the configured room.
func (c *Call) Join() error {
	c.mu.Lock()
	c.ended = false
	c.mu.Unlock()
	return c.sig.JoinRoom(c.cfg.Room.Token, c.cfg.Room.BackendSession)
}

// HangUp ends the call locally and leaves the room.
func (c *Call) HangUp() error {
	c.end("hangup")
	return c.sig.LeaveRoom()
}

type Status struct {
	Room         domain.Room             `json:"room"`
	SessionID    domain.SessionID        `json:"sessionId"`
	InCall       bool                    `json:"inCall"`
	MCU          bool                    `json:"mcu"`
	Local        core.LocalState         `json:"local"`
	Participants []core.ParticipantState `json:"participants"`
}

func (c *Call) Status() Status {
	c.mu.RLock()
	st := Status{
		Room:      c.cfg.Room,
		SessionID: c.ownSID,
		InCall:    c.inCall,
		MCU:       c.mcu,
	}
	c.mu.RUnlock()
	st.Local = c.local.State()
	st.Participants = c.Participants()
	return st
}

// Participants returns a snapshot sorted by session id.
func (c *Call) Participants() []core.ParticipantState {
	c.mu.RLock()
	out := make([]core.ParticipantState, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p.State())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (c *Call) participant(sid domain.SessionID) *core.CallParticipant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participants[sid]
}

// participantIDs feeds the signaling sender.
func (c *Call) participantIDs() []domain.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.SessionID, 0, len(c.participants))
	for sid := range c.participants {
		out = append(out, sid)
	}
	return out
}

// peers feeds the data-channel senders.
func (c *Call) peers() []sender.Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]sender.Peer, 0, len(c.wrappers))
	for _, w := range c.wrappers {
		out = append(out, w)
	}
	return out
}
