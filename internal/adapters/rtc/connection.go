package rtc

import (
	"github.com/pion/webrtc/v4"
)

// PeerConnection is an indirection over *webrtc.PeerConnection to ease testing.
type PeerConnection interface {
	CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(opts *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(c webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(fn func(DataChannel))
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// DataChannel is the subset of *webrtc.DataChannel the wrapper uses.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnOpen(fn func())
	OnMessage(fn func(webrtc.DataChannelMessage))
	Close() error
}

// Factory builds one peer connection per wrapper.
type Factory func(cfg webrtc.Configuration) (PeerConnection, error)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ICEServersConfig builds a configuration from configured server URLs,
// falling back to the public STUN server.
func ICEServersConfig(urls []string, username, credential string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs:       urls,
				Username:   username,
				Credential: credential,
			},
		},
	}
}

type pionPeerConnection struct {
	*webrtc.PeerConnection
}

// NewPeerConnection is the production Factory.
func NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &pionPeerConnection{PeerConnection: pc}, nil
}

func (p *pionPeerConnection) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.PeerConnection.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (p *pionPeerConnection) OnDataChannel(fn func(DataChannel)) {
	p.PeerConnection.OnDataChannel(func(dc *webrtc.DataChannel) { fn(dc) })
}
