package broadcast

import (
	"github.com/dkeye/callsignal/internal/app/sender"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// meshWatch waits for one participant's connection to come up.
type meshWatch struct {
	m      *Mesh
	synced bool
}

func (w *meshWatch) OnChange(p *core.CallParticipant) {
	if p.ICEConnectionState().Established() {
		w.m.sync(p.SessionID(), w)
	}
}

func (w *meshWatch) OnReaction(*core.CallParticipant, string) {}

// Mesh is the broadcaster for direct calls. Each participant gets the full
// state once, when its connection first comes up.
type Mesh struct {
	base
	signaling    sender.SignalingSender
	watches      map[domain.SessionID]*meshWatch
	participants map[domain.SessionID]*core.CallParticipant
	anySynced    bool
}

var _ LocalStateBroadcaster = (*Mesh)(nil)

func NewMesh(local *core.LocalParticipant, data sender.DataSender, signaling sender.SignalingSender) *Mesh {
	m := &Mesh{
		base:         base{local: local, data: data, last: local.State()},
		signaling:    signaling,
		watches:      make(map[domain.SessionID]*meshWatch),
		participants: make(map[domain.SessionID]*core.CallParticipant),
	}
	local.AddObserver(m)
	return m
}

// OnLocalChange sends nothing until some participant has been synced.
func (m *Mesh) OnLocalChange(s core.LocalState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	prev := m.last
	m.last = s
	if !m.anySynced {
		return
	}
	m.sendAllLocked(Diff(prev, s))
	if prev.AudioEnabled != s.AudioEnabled {
		m.signaling.SendToAll(mediaSignal("audio", s.AudioEnabled))
	}
	if prev.VideoEnabled != s.VideoEnabled {
		m.signaling.SendToAll(mediaSignal("video", s.VideoEnabled))
	}
}

func (m *Mesh) HandleCallParticipantAdded(p *core.CallParticipant) {
	sid := p.SessionID()
	w := &meshWatch{m: m}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	oldWatch, oldP := m.watches[sid], m.participants[sid]
	m.watches[sid] = w
	m.participants[sid] = p
	m.mu.Unlock()

	if oldWatch != nil && oldP != nil {
		oldP.RemoveObserver(oldWatch)
	}
	p.AddObserver(w)
	if p.ICEConnectionState().Established() {
		m.sync(sid, w)
	}
}

func (m *Mesh) HandleCallParticipantRemoved(p *core.CallParticipant) {
	sid := p.SessionID()
	m.mu.Lock()
	w := m.watches[sid]
	if m.participants[sid] == p {
		delete(m.watches, sid)
		delete(m.participants, sid)
	}
	m.mu.Unlock()
	if w != nil {
		p.RemoveObserver(w)
	}
}

func (m *Mesh) sync(sid domain.SessionID, w *meshWatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || w.synced || m.watches[sid] != w {
		return
	}
	w.synced = true
	m.anySynced = true

	for _, msg := range FullState(m.last) {
		m.data.Send(msg, sid)
	}
	m.signaling.Send(mediaSignal("audio", m.last.AudioEnabled), sid)
	m.signaling.Send(mediaSignal("video", m.last.VideoEnabled), sid)
	log.Debug().Str("module", "broadcast").Str("sid", string(sid)).Msg("state synced")
}

func (m *Mesh) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	watches := m.watches
	participants := m.participants
	m.watches = nil
	m.participants = nil
	m.mu.Unlock()

	for sid, w := range watches {
		if p := participants[sid]; p != nil {
			p.RemoveObserver(w)
		}
	}
	m.local.RemoveObserver(m)
}
