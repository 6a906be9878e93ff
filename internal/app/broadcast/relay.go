package broadcast

import (
	"time"

	"github.com/dkeye/callsignal/internal/app/sender"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// ResendDelays are the gaps between full state broadcasts after a participant is added.
// The first send is immediate.
var ResendDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}

type sequence struct {
	timers []Timer
}

func (s *sequence) stop() {
	for _, t := range s.timers {
		t.Stop()
	}
}

// Relay is the broadcaster for server-relayed calls. A subscriber channel to
// a new participant may open late, so the state is resent on a backoff.
type Relay struct {
	base
	sched     Scheduler
	sequences map[domain.SessionID]*sequence
}

var _ LocalStateBroadcaster = (*Relay)(nil)

func NewRelay(local *core.LocalParticipant, data sender.DataSender, sched Scheduler) *Relay {
	r := &Relay{
		base:      base{local: local, data: data, last: local.State()},
		sched:     sched,
		sequences: make(map[domain.SessionID]*sequence),
	}
	local.AddObserver(r)
	return r
}

func (r *Relay) OnLocalChange(s core.LocalState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	msgs := Diff(r.last, s)
	r.last = s
	r.sendAllLocked(msgs)
}

// HandleCallParticipantAdded sends the state now and again after each resend
// delay. Adding the same session again restarts its sequence.
func (r *Relay) HandleCallParticipantAdded(p *core.CallParticipant) {
	sid := p.SessionID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	if old, ok := r.sequences[sid]; ok {
		old.stop()
	}
	seq := &sequence{}
	r.sequences[sid] = seq
	r.sendStateLocked()

	var at time.Duration
	for i, d := range ResendDelays {
		at += d
		last := i == len(ResendDelays)-1
		seq.timers = append(seq.timers, r.sched.AfterFunc(at, func() { r.resend(sid, seq, last) }))
	}
	log.Debug().Str("module", "broadcast").Str("sid", string(sid)).Msg("state resend sequence started")
}

// HandleCallParticipantRemoved leaves a running sequence alone; its sends go
// to all and the departed session is simply no longer among them.
func (r *Relay) HandleCallParticipantRemoved(*core.CallParticipant) {}

func (r *Relay) resend(sid domain.SessionID, seq *sequence, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed || r.sequences[sid] != seq {
		return
	}
	r.sendStateLocked()
	if last {
		delete(r.sequences, sid)
	}
}

// sendStateLocked goes to every peer, the publisher included.
func (r *Relay) sendStateLocked() {
	r.sendAllLocked(FullState(r.last))
}

func (r *Relay) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	for _, seq := range r.sequences {
		seq.stop()
	}
	r.sequences = nil
	r.mu.Unlock()
	r.local.RemoveObserver(r)
}
