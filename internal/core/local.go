package core

import "sync"

// LocalState is the media state the local participant advertises.
type LocalState struct {
	AudioEnabled bool `json:"audio"`
	VideoEnabled bool `json:"video"`
	Speaking     bool `json:"speaking"`
}

// SpeakingWhileMuted is derived and never stored.
func (s LocalState) SpeakingWhileMuted() bool { return s.Speaking && !s.AudioEnabled }

// LocalObserver is notified synchronously on the mutating goroutine.
// Observers must not mutate the LocalParticipant they observe.
type LocalObserver interface {
	OnLocalChange(state LocalState)
}

// LocalParticipant is the single source of truth for local media state.
type LocalParticipant struct {
	notifyMu sync.Mutex

	mu    sync.RWMutex
	state LocalState

	observers observerSet[LocalObserver]
}

func NewLocalParticipant(initial LocalState) *LocalParticipant {
	return &LocalParticipant{state: initial}
}

func (l *LocalParticipant) AddObserver(o LocalObserver)    { l.observers.add(o) }
func (l *LocalParticipant) RemoveObserver(o LocalObserver) { l.observers.remove(o) }

func (l *LocalParticipant) State() LocalState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *LocalParticipant) SetAudioEnabled(on bool) {
	l.update(func(s *LocalState) { s.AudioEnabled = on })
}

func (l *LocalParticipant) SetVideoEnabled(on bool) {
	l.update(func(s *LocalState) { s.VideoEnabled = on })
}

func (l *LocalParticipant) SetSpeaking(on bool) {
	l.update(func(s *LocalState) { s.Speaking = on })
}

func (l *LocalParticipant) update(fn func(s *LocalState)) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	before := l.state
	fn(&l.state)
	after := l.state
	l.mu.Unlock()
	if before == after {
		return
	}
	for _, o := range l.observers.snapshot() {
		o.OnLocalChange(after)
	}
}
