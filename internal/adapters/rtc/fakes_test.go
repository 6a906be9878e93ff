package rtc

import (
	"errors"
	"sync"

	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/pion/webrtc/v4"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97 102 103\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtpmap:97 rtx/90000\r\n" +
	"a=fmtp:97 apt=96\r\n" +
	"a=rtpmap:102 H264/90000\r\n" +
	"a=fmtp:102 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f\r\n" +
	"a=rtpmap:103 rtx/90000\r\n" +
	"a=fmtp:103 apt=102\r\n"

type fakePC struct {
	mu       sync.Mutex
	local    *webrtc.SessionDescription
	remote   *webrtc.SessionDescription
	added    []string
	offers   []webrtc.OfferOptions
	answers  int
	channels []*fakeDC
	tracks   int
	removed  int
	closed   bool

	onState func(webrtc.ICEConnectionState)
	onDC    func(DataChannel)
}

func (p *fakePC) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if opts != nil {
		p.offers = append(p.offers, *opts)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &d
	return nil
}

func (p *fakePC) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePC) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.added = append(p.added, c.Candidate)
	return nil
}

func (p *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return &webrtc.RTPSender{}, nil
}

func (p *fakePC) RemoveTrack(*webrtc.RTPSender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed++
	return nil
}

func (p *fakePC) CreateDataChannel(label string) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &fakeDC{label: label}
	p.channels = append(p.channels, dc)
	return dc, nil
}

func (p *fakePC) OnDataChannel(fn func(DataChannel))                            { p.onDC = fn }
func (p *fakePC) OnICECandidate(func(*webrtc.ICECandidate))                     {}
func (p *fakePC) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) { p.onState = fn }
func (p *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))        {}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) addedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.added...)
}

type fakeDC struct {
	mu     sync.Mutex
	label  string
	state  webrtc.DataChannelState
	sent   []string
	onOpen func()
	onMsg  func(webrtc.DataChannelMessage)
	closed bool
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

func (d *fakeDC) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDC) open() {
	d.mu.Lock()
	d.state = webrtc.DataChannelStateOpen
	fn := d.onOpen
	d.mu.Unlock()
	fn()
}

func (d *fakeDC) sentTexts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

type fakeSignaler struct {
	mu   sync.Mutex
	msgs []signal.Message
}

func (s *fakeSignaler) SendMessage(m signal.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *fakeSignaler) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (s *fakeSignaler) last() signal.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[len(s.msgs)-1]
}

type recEvents struct {
	NopEvents
	mu     sync.Mutex
	events []string
	status []StatusMessage
}

func (r *recEvents) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recEvents) OnStreamAvailable(*Wrapper)  { r.add("stream") }
func (r *recEvents) OnPeerClosed(*Wrapper)       { r.add("closed") }
func (r *recEvents) OnPublisherFailed(*Wrapper)  { r.add("publisher_failed") }
func (r *recEvents) OnConnectionFailed(*Wrapper) { r.add("failed") }

func (r *recEvents) OnICEStateChange(_ *Wrapper, st domain.ICEConnectionState) {
	r.add("ice:" + st.String())
}

func (r *recEvents) OnStatusMessage(_ *Wrapper, m StatusMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, m)
}

func (r *recEvents) count(e string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}
