package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gorilla/websocket"
)

var (
	errFakeClosed  = errors.New("fake conn closed")
	errFakeTimeout = errors.New("fake conn read deadline exceeded")
	errFakeWrite   = errors.New("fake conn write failed")
)

type fakeConn struct {
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once

	mu         sync.Mutex
	deadline   time.Time
	pong       func(string) error
	silent     bool
	failWrites int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case d := <-f.in:
			return websocket.TextMessage, d, nil
		case <-f.closed:
			return 0, nil, errFakeClosed
		case <-tick.C:
			f.mu.Lock()
			expired := !f.deadline.IsZero() && time.Now().After(f.deadline)
			f.mu.Unlock()
			if expired {
				return 0, nil, errFakeTimeout
			}
		}
	}
}

// WriteMessage answers pings with a pong unless the conn was silenced.
func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.mu.Lock()
	pong, silent := f.pong, f.silent
	fail := mt == websocket.TextMessage && f.failWrites > 0
	if fail {
		f.failWrites--
	}
	f.mu.Unlock()

	switch {
	case fail:
		return errFakeWrite
	case mt == websocket.PingMessage:
		if !silent && pong != nil {
			return pong("")
		}
		return nil
	case mt != websocket.TextMessage:
		return nil
	}
	f.written <- append([]byte(nil), data...)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline = t
	return nil
}

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pong = h
}

// silence stops the peer from answering pings, like a half-open connection.
func (f *fakeConn) silence() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent = true
}

// failNextWrites makes the next n text writes fail without closing the conn.
func (f *fakeConn) failNextWrites(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = n
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// serve pushes a server frame to the client.
func (f *fakeConn) serve(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.in <- b
}

func (f *fakeConn) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case b := <-f.written:
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("client wrote bad json %q: %v", b, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
	}
	return Envelope{}
}

type fakeDialer struct {
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
	return nil
}

type recListener struct {
	NopListener
	events chan string
}

func newRecListener() *recListener {
	return &recListener{events: make(chan string, 64)}
}

func (r *recListener) OnConnected(resumed bool) {
	r.events <- fmt.Sprintf("connected resumed=%v", resumed)
}

func (r *recListener) OnDisconnected(error) { r.events <- "disconnected" }

func (r *recListener) OnSessionInvalidated() { r.events <- "invalidated" }

func (r *recListener) OnRoomJoined(room domain.Room, resumed bool) {
	r.events <- fmt.Sprintf("joined %s resumed=%v", room.Token, resumed)
}

func (r *recListener) OnRoomLeft(room domain.Room) { r.events <- "left " + string(room.Token) }

func (r *recListener) OnParticipantsUpdate(u ParticipantsUpdate) {
	r.events <- fmt.Sprintf("update %d", len(u.Users))
}

// wait skips unrelated events until want arrives.
func (r *recListener) wait(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.events:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", want)
		}
	}
}

type recHandler struct {
	mu   sync.Mutex
	msgs []Message
}

func (h *recHandler) HandleSignalingMessage(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
}

func (h *recHandler) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.msgs))
	for _, m := range h.msgs {
		out = append(out, m.Type)
	}
	return out
}
