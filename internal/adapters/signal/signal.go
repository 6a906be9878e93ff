// Package signal implements the control-channel client: hello and resume,
// room membership, participant events and the peer message relay.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/store"
	"github.com/dkeye/callsignal/internal/auth"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed             = errors.New("signal: client closed")
	errSessionInvalidated = errors.New("signal: session invalidated")
	errHelloExpected      = errors.New("signal: hello expected")
	errBye                = errors.New("signal: server said bye")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHelloSent
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHelloSent:
		return "hello_sent"
	case StateEstablished:
		return "established"
	}
	return "unknown"
}

type Options struct {
	URL string
	// StoreKey names the persisted resume state; empty disables persistence.
	StoreKey     string
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	// QueueWarn logs a warning every time the offline queue grows by this many frames.
	QueueWarn int
	Backoff   Backoff
}

// connection is one dialed transport. The client replaces it on every reconnect.
type connection struct {
	conn Conn
	out  *outbox

	established bool // guarded by Client.mu

	closed     chan struct{}
	writerDone chan struct{}
	finalSent  chan struct{}
	closeOnce  sync.Once
	finalOnce  sync.Once
}

func newConnection(c Conn) *connection {
	return &connection{
		conn:       c,
		out:        newOutbox(),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
		finalSent:  make(chan struct{}),
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *connection) markFinal() {
	c.finalOnce.Do(func() { close(c.finalSent) })
}

type Client struct {
	opts     Options
	dialer   Dialer
	creds    auth.Provider
	store    store.ResumeStore
	receiver *Receiver
	logger   zerolog.Logger

	mu          sync.Mutex
	listener    Listener
	state       State
	resumeID    string
	sessionID   domain.SessionID
	features    []string
	room        domain.Room
	pendingRoom domain.Room
	queue       [][]byte
	conn        *connection
	restartNow  bool
	closed      bool
	cancel      context.CancelFunc

	wake chan struct{}
	done chan struct{}
}

func NewClient(opts Options, dialer Dialer, creds auth.Provider, st store.ResumeStore) *Client {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Client{
		opts:     opts,
		dialer:   dialer,
		creds:    creds,
		store:    st,
		receiver: NewReceiver(),
		logger:   log.With().Str("module", "signal").Str("url", opts.URL).Logger(),
		listener: NopListener{},
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (c *Client) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *Client) Receiver() *Receiver { return c.receiver }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID is the server-assigned id of the local session, empty until the first hello.
func (c *Client) SessionID() domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) ResumeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeID
}

func (c *Client) Room() domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) HasFeature(f string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, have := range c.features {
		if have == f {
			return true
		}
	}
	return false
}

// Done is closed when the reconnect loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Start restores persisted resume state and runs the connect loop until ctx ends or Close.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.loadResume(ctx)
	go c.run(ctx)
}

// Close says bye on an established session, waits up to the write timeout
// for it to leave, then tears the transport down. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	established := conn != nil && conn.established
	cancel := c.cancel
	c.resumeID = ""
	c.mu.Unlock()

	if established {
		data, err := json.Marshal(Envelope{Type: TypeBye, Bye: &ByeBody{}})
		if err == nil {
			conn.out.push(frame{data: data, control: true, final: true})
			t := time.NewTimer(c.opts.WriteTimeout)
			select {
			case <-conn.finalSent:
			case <-conn.closed:
			case <-t.C:
				c.logger.Warn().Msg("bye not sent before timeout")
			}
			t.Stop()
		}
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.dropConnection(conn, ErrClosed)
	}
	c.setState(StateDisconnected)
	c.deleteResume()
	c.logger.Info().Msg("client closed")
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := c.connect(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
		} else {
			select {
			case <-conn.closed:
			case <-ctx.Done():
				c.dropConnection(conn, ctx.Err())
			}
			<-conn.writerDone
			if c.wasEstablished(conn) {
				attempt = 0
			}
		}
		if ctx.Err() != nil {
			return
		}
		if c.takeRestart() {
			attempt = 0
			continue
		}
		delay := c.opts.Backoff.Delay(attempt)
		attempt++
		c.logger.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("reconnect scheduled")
		if !c.wait(ctx, delay) {
			return
		}
	}
}

// wait sleeps for d. A queued send shortens the remaining wait to the base delay.
func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	deadline := time.Now().Add(d)
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case <-c.wake:
			if short := time.Now().Add(c.opts.Backoff.Initial); short.Before(deadline) {
				deadline = short
				t.Reset(time.Until(deadline))
			}
		}
	}
}

func (c *Client) connect(ctx context.Context) (*connection, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.state = StateConnecting
	resuming := c.resumeID != ""
	c.mu.Unlock()

	var creds auth.Credentials
	if !resuming {
		var err error
		if creds, err = c.creds.Credentials(ctx); err != nil {
			return nil, err
		}
	}

	ws, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		return nil, err
	}
	conn := newConnection(ws)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.close()
		close(conn.writerDone)
		return nil, ErrClosed
	}
	hello := &HelloBody{Version: ProtocolVersion}
	if c.resumeID != "" {
		hello.ResumeID = c.resumeID
	} else {
		hello.Auth = &HelloAuth{
			URL:    creds.URL,
			Params: HelloAuthParams{UserID: creds.UserID, Ticket: creds.Ticket},
		}
	}
	c.conn = conn
	c.state = StateHelloSent
	c.mu.Unlock()

	data, err := json.Marshal(Envelope{Type: TypeHello, Hello: hello})
	if err != nil {
		c.dropConnection(conn, err)
		close(conn.writerDone)
		return nil, err
	}
	conn.out.push(frame{data: data, control: true})

	go c.writePump(ctx, conn)
	go c.readPump(conn)

	c.logger.Info().Bool("resume", hello.ResumeID != "").Msg("hello sent")
	return conn, nil
}

// dropConnection detaches conn from the client. Only the current
// connection changes client state; stale ones are just closed.
func (c *Client) dropConnection(conn *connection, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		if c.closed {
			c.state = StateDisconnected
		} else {
			c.state = StateConnecting
		}
	}
	l := c.listener
	c.mu.Unlock()

	conn.close()
	if !current {
		return
	}
	c.logger.Info().Err(err).Msg("connection lost")
	l.OnDisconnected(err)
}

// requeue puts frames a dead connection never wrote in front of everything queued since.
func (c *Client) requeue(data [][]byte) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	c.queue = append(data, c.queue...)
	n := len(c.queue)
	c.mu.Unlock()
	c.logger.Debug().Int("requeued", len(data)).Int("queued", n).Msg("unsent frames requeued")
}

func (c *Client) isCurrent(conn *connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Client) wasEstablished(conn *connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.established
}

func (c *Client) takeRestart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.restartNow
	c.restartNow = false
	return r
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) currentListener() Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

func (c *Client) resumeStateLocked() store.ResumeState {
	return store.ResumeState{
		ResumeID:       c.resumeID,
		SessionID:      c.sessionID,
		RoomToken:      c.room.Token,
		BackendSession: c.room.BackendSession,
		UpdatedAt:      time.Now(),
	}
}

func (c *Client) loadResume(ctx context.Context) {
	if c.store == nil || c.opts.StoreKey == "" {
		return
	}
	st, ok, err := c.store.Load(ctx, c.opts.StoreKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("load resume state")
		return
	}
	if !ok || st.ResumeID == "" {
		return
	}
	c.mu.Lock()
	c.resumeID = st.ResumeID
	c.sessionID = st.SessionID
	c.room = st.Room()
	c.mu.Unlock()
	c.logger.Info().Str("sid", string(st.SessionID)).Str("room", string(st.RoomToken)).Msg("resume state restored")
}

func (c *Client) saveResume(st store.ResumeState) {
	if c.store == nil || c.opts.StoreKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if err := c.store.Save(ctx, c.opts.StoreKey, st); err != nil {
		c.logger.Warn().Err(err).Msg("save resume state")
	}
}

func (c *Client) deleteResume() {
	if c.store == nil || c.opts.StoreKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, c.opts.StoreKey); err != nil {
		c.logger.Warn().Err(err).Msg("delete resume state")
	}
}
