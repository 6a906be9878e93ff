package broadcast

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/domain"
)

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeScheduler fires timers only when the test advances its clock.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{at: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recData records "to:type"; "*" marks SendToAll.
type recData struct {
	mu   sync.Mutex
	sent []string
}

func (r *recData) Send(m rtc.StatusMessage, sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, fmt.Sprintf("%s:%s", sid, m.Type))
}

func (r *recData) SendToAll(m rtc.StatusMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, "*:"+m.Type)
}

func (r *recData) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

type recSignaling struct {
	mu   sync.Mutex
	sent []string
}

func (r *recSignaling) record(to string, m signal.Message) {
	var p signal.MediaPayload
	_ = m.Decode(&p)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, fmt.Sprintf("%s:%s:%s", to, m.Type, p.Name))
}

func (r *recSignaling) Send(m signal.Message, sid domain.SessionID) { r.record(string(sid), m) }
func (r *recSignaling) SendToAll(m signal.Message)                  { r.record("*", m) }

func (r *recSignaling) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}
