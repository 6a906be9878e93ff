// Package sender resolves message destinations at send time: data-channel
// peers for status messages, live participants for signaling messages.
package sender

import (
	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// Peer is the part of a peer connection wrapper a sender needs.
type Peer interface {
	SessionID() domain.SessionID
	StreamType() domain.VideoStreamType
	IsMCUPublisher() bool
	SendStatus(m rtc.StatusMessage) error
}

// PeerSource returns the current wrappers; it is called on every send.
type PeerSource func() []Peer

// DataSender sends status messages over data channels.
type DataSender interface {
	Send(m rtc.StatusMessage, sid domain.SessionID)
	SendToAll(m rtc.StatusMessage)
}

// SignalingSender sends participant messages over the control connection.
type SignalingSender interface {
	Send(m signal.Message, sid domain.SessionID)
	SendToAll(m signal.Message)
}

func sendStatus(p Peer, m rtc.StatusMessage) {
	if err := p.SendStatus(m); err != nil {
		log.Warn().Err(err).
			Str("module", "sender").
			Str("sid", string(p.SessionID())).
			Str("type", m.Type).
			Msg("status not sent")
	}
}

// Relay targets a server-relayed call: one subscriber wrapper per remote
// session plus the local publisher, which forwards to everyone.
type Relay struct {
	peers PeerSource
}

func NewRelay(peers PeerSource) *Relay { return &Relay{peers: peers} }

func (r *Relay) Send(m rtc.StatusMessage, sid domain.SessionID) {
	for _, p := range r.peers() {
		if p.SessionID() == sid && p.StreamType() == domain.StreamVideo && !p.IsMCUPublisher() {
			sendStatus(p, m)
		}
	}
}

// SendToAll includes the publisher; screen wrappers never carry status.
func (r *Relay) SendToAll(m rtc.StatusMessage) {
	for _, p := range r.peers() {
		if p.StreamType() == domain.StreamVideo {
			sendStatus(p, m)
		}
	}
}

// Mesh targets direct peer connections.
type Mesh struct {
	peers PeerSource
}

func NewMesh(peers PeerSource) *Mesh { return &Mesh{peers: peers} }

func (s *Mesh) Send(m rtc.StatusMessage, sid domain.SessionID) {
	for _, p := range s.peers() {
		if p.SessionID() == sid && p.StreamType() == domain.StreamVideo {
			sendStatus(p, m)
		}
	}
}

func (s *Mesh) SendToAll(m rtc.StatusMessage) {
	for _, p := range s.peers() {
		if p.StreamType() == domain.StreamVideo {
			sendStatus(p, m)
		}
	}
}

type Signaler interface {
	SendMessage(m signal.Message) error
}

// Signaling fans messages out over the control connection to the
// participants currently in the call.
type Signaling struct {
	client       Signaler
	participants func() []domain.SessionID
}

func NewSignaling(client Signaler, participants func() []domain.SessionID) *Signaling {
	return &Signaling{client: client, participants: participants}
}

func (s *Signaling) Send(m signal.Message, sid domain.SessionID) {
	m.To = sid
	if err := s.client.SendMessage(m); err != nil {
		log.Warn().Err(err).Str("module", "sender").Str("sid", string(sid)).Str("type", m.Type).Msg("signaling message not sent")
	}
}

func (s *Signaling) SendToAll(m signal.Message) {
	for _, sid := range s.participants() {
		s.Send(m, sid)
	}
}
