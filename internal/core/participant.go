package core

import (
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
)

// CallParticipantObserver is notified synchronously on the mutating goroutine.
// Observers must not mutate the participant they are notified about.
type CallParticipantObserver interface {
	OnChange(p *CallParticipant)
	OnReaction(p *CallParticipant, reaction string)
}

// ParticipantState is a read-only view of a remote participant.
type ParticipantState struct {
	SessionID       domain.SessionID          `json:"sessionId"`
	UserID          domain.UserID             `json:"userId,omitempty"`
	Nick            string                    `json:"nick"`
	Internal        bool                      `json:"internal"`
	ICEState        domain.ICEConnectionState `json:"-"`
	ICE             string                    `json:"ice"`
	AudioAvailable  bool                      `json:"audio"`
	VideoAvailable  bool                      `json:"video"`
	ScreenAvailable bool                      `json:"screen"`
	Speaking        bool                      `json:"speaking"`
	RaisedHand      domain.RaisedHand         `json:"raisedHand"`
	LastReaction    string                    `json:"lastReaction,omitempty"`
}

// CallParticipant models one remote member of the call.
// Every setter that changes a value notifies observers exactly once;
// setting the current value is a no-op.
type CallParticipant struct {
	sessionID domain.SessionID

	// notifyMu orders mutations of this participant together with their notifications.
	notifyMu sync.Mutex

	mu    sync.RWMutex
	state ParticipantState

	observers observerSet[CallParticipantObserver]
}

func NewCallParticipant(sid domain.SessionID) *CallParticipant {
	return &CallParticipant{
		sessionID: sid,
		state:     ParticipantState{SessionID: sid, ICEState: domain.ICENew},
	}
}

func (p *CallParticipant) SessionID() domain.SessionID { return p.sessionID }

func (p *CallParticipant) AddObserver(o CallParticipantObserver)    { p.observers.add(o) }
func (p *CallParticipant) RemoveObserver(o CallParticipantObserver) { p.observers.remove(o) }

func (p *CallParticipant) State() ParticipantState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	s.ICE = s.ICEState.String()
	return s
}

func (p *CallParticipant) ICEConnectionState() domain.ICEConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.ICEState
}

func (p *CallParticipant) Nick() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Nick
}

func (p *CallParticipant) RaisedHand() domain.RaisedHand {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.RaisedHand
}

// update applies fn under the state lock and notifies when it reports a change.
func (p *CallParticipant) update(fn func(s *ParticipantState) bool) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	changed := fn(&p.state)
	p.mu.Unlock()
	if !changed {
		return
	}
	for _, o := range p.observers.snapshot() {
		o.OnChange(p)
	}
}

func (p *CallParticipant) SetUserID(id domain.UserID) {
	p.update(func(s *ParticipantState) bool {
		if s.UserID == id {
			return false
		}
		s.UserID = id
		return true
	})
}

func (p *CallParticipant) SetNick(nick string) {
	p.update(func(s *ParticipantState) bool {
		if s.Nick == nick {
			return false
		}
		s.Nick = nick
		return true
	})
}

func (p *CallParticipant) SetInternal(internal bool) {
	p.update(func(s *ParticipantState) bool {
		if s.Internal == internal {
			return false
		}
		s.Internal = internal
		return true
	})
}

func (p *CallParticipant) SetICEConnectionState(st domain.ICEConnectionState) {
	p.update(func(s *ParticipantState) bool {
		if s.ICEState == st {
			return false
		}
		s.ICEState = st
		return true
	})
}

func (p *CallParticipant) SetAudioAvailable(on bool) {
	p.update(func(s *ParticipantState) bool {
		if s.AudioAvailable == on {
			return false
		}
		s.AudioAvailable = on
		return true
	})
}

func (p *CallParticipant) SetVideoAvailable(on bool) {
	p.update(func(s *ParticipantState) bool {
		if s.VideoAvailable == on {
			return false
		}
		s.VideoAvailable = on
		return true
	})
}

func (p *CallParticipant) SetScreenAvailable(on bool) {
	p.update(func(s *ParticipantState) bool {
		if s.ScreenAvailable == on {
			return false
		}
		s.ScreenAvailable = on
		return true
	})
}

func (p *CallParticipant) SetSpeaking(on bool) {
	p.update(func(s *ParticipantState) bool {
		if s.Speaking == on {
			return false
		}
		s.Speaking = on
		return true
	})
}

// SetRaisedHand is last-write-wins by timestamp: an update older than the
// stored one is ignored.
func (p *CallParticipant) SetRaisedHand(h domain.RaisedHand) {
	p.update(func(s *ParticipantState) bool {
		if h.Timestamp < s.RaisedHand.Timestamp || h == s.RaisedHand {
			return false
		}
		s.RaisedHand = h
		return true
	})
}

// EmitReaction is delivered every time, even when it repeats LastReaction.
// It records the reaction without an OnChange.
func (p *CallParticipant) EmitReaction(reaction string) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.state.LastReaction = reaction
	p.mu.Unlock()
	for _, o := range p.observers.snapshot() {
		o.OnReaction(p, reaction)
	}
}
