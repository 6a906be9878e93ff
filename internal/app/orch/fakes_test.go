package orch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/app/broadcast"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/pion/webrtc/v4"
)

const testSDP = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

type fakeSignaling struct {
	mu     sync.Mutex
	sid    domain.SessionID
	mcu    bool
	recv   *signal.Receiver
	sent   []signal.Message
	joins  []domain.RoomToken
	leaves int
}

func newFakeSignaling(sid domain.SessionID, mcu bool) *fakeSignaling {
	return &fakeSignaling{sid: sid, mcu: mcu, recv: signal.NewReceiver()}
}

func (s *fakeSignaling) SendMessage(m signal.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSignaling) JoinRoom(token domain.RoomToken, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, token)
	return nil
}

func (s *fakeSignaling) LeaveRoom() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
	return nil
}

func (s *fakeSignaling) SessionID() domain.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

func (s *fakeSignaling) setSessionID(sid domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sid = sid
}

func (s *fakeSignaling) HasFeature(f string) bool   { return f == signal.FeatureMCU && s.mcu }
func (s *fakeSignaling) Receiver() *signal.Receiver { return s.recv }

// messages returns "type>to[/roomType]" for each sent message.
func (s *fakeSignaling) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		e := m.Type + ">" + string(m.To)
		if m.RoomType != "" {
			e += "/" + m.RoomType
		}
		out = append(out, e)
	}
	return out
}

func (s *fakeSignaling) joinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joins)
}

type fakePC struct {
	mu       sync.Mutex
	channels []*fakeDC
	closed   bool
	onState  func(webrtc.ICEConnectionState)
	onDC     func(rtc.DataChannel)
}

func (p *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (p *fakePC) SetLocalDescription(webrtc.SessionDescription) error    { return nil }
func (p *fakePC) SetRemoteDescription(webrtc.SessionDescription) error   { return nil }
func (p *fakePC) LocalDescription() *webrtc.SessionDescription           { return nil }
func (p *fakePC) RemoteDescription() *webrtc.SessionDescription          { return nil }
func (p *fakePC) AddICECandidate(webrtc.ICECandidateInit) error          { return nil }
func (p *fakePC) RemoveTrack(*webrtc.RTPSender) error                    { return nil }
func (p *fakePC) OnICECandidate(func(*webrtc.ICECandidate))              {}
func (p *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}
func (p *fakePC) OnDataChannel(fn func(rtc.DataChannel))                 { p.onDC = fn }

func (p *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return &webrtc.RTPSender{}, nil
}

func (p *fakePC) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.onState = fn
}

func (p *fakePC) CreateDataChannel(label string) (rtc.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &fakeDC{label: label}
	p.channels = append(p.channels, dc)
	return dc, nil
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePC) channel() *fakeDC {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	return p.channels[0]
}

type fakeDC struct {
	mu     sync.Mutex
	label  string
	state  webrtc.DataChannelState
	sent   []string
	onOpen func()
	onMsg  func(webrtc.DataChannelMessage)
}

func (d *fakeDC) Label() string { return d.label }

func (d *fakeDC) ReadyState() webrtc.DataChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDC) SendText(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, s)
	return nil
}

func (d *fakeDC) OnOpen(fn func())                             { d.onOpen = fn }
func (d *fakeDC) OnMessage(fn func(webrtc.DataChannelMessage)) { d.onMsg = fn }
func (d *fakeDC) Close() error                                 { return nil }

func (d *fakeDC) receive(m rtc.StatusMessage) {
	data, _ := json.Marshal(m)
	d.onMsg(webrtc.DataChannelMessage{IsString: true, Data: data})
}

// fakeFactory records every peer connection it hands out.
type fakeFactory struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (f *fakeFactory) New(webrtc.Configuration) (rtc.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) all() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.pcs...)
}

type idleScheduler struct{}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func (idleScheduler) AfterFunc(time.Duration, func()) broadcast.Timer { return idleTimer{} }

type recUI struct {
	NopListener
	mu      sync.Mutex
	added   []domain.SessionID
	removed []domain.SessionID
	failed  []domain.SessionID
	ended   []string
}

func (u *recUI) OnParticipantAdded(p *core.CallParticipant) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.added = append(u.added, p.SessionID())
}

func (u *recUI) OnParticipantRemoved(p *core.CallParticipant) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.removed = append(u.removed, p.SessionID())
}

func (u *recUI) OnConnectionFailed(sid domain.SessionID, _ domain.VideoStreamType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failed = append(u.failed, sid)
}

func (u *recUI) OnCallEnded(reason string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ended = append(u.ended, reason)
}

type reactions struct {
	mu  sync.Mutex
	got []string
}

func (r *reactions) OnChange(*core.CallParticipant) {}

func (r *reactions) OnReaction(_ *core.CallParticipant, reaction string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, reaction)
}
