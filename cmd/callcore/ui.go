package main

import (
	"encoding/json"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// uiLog stands in for a user interface and logs what it would render.
type uiLog struct{}

func (u *uiLog) OnParticipantAdded(p *core.CallParticipant) {
	p.AddObserver(u)
	log.Info().Str("module", "ui").Str("sid", string(p.SessionID())).Str("nick", p.Nick()).Msg("participant joined call")
}

func (u *uiLog) OnParticipantRemoved(p *core.CallParticipant) {
	p.RemoveObserver(u)
	log.Info().Str("module", "ui").Str("sid", string(p.SessionID())).Msg("participant left call")
}

func (u *uiLog) OnRemoteTrack(sid domain.SessionID, st domain.VideoStreamType, track *webrtc.TrackRemote) {
	log.Info().Str("module", "ui").
		Str("sid", string(sid)).
		Str("stream_type", string(st)).
		Str("kind", track.Kind().String()).
		Msg("remote track")
}

func (u *uiLog) OnConnectionFailed(sid domain.SessionID, st domain.VideoStreamType) {
	log.Warn().Str("module", "ui").Str("sid", string(sid)).Str("stream_type", string(st)).Msg("connection failed")
}

func (u *uiLog) OnRoomMessage(kind string, data json.RawMessage) {
	ev := log.Info().Str("module", "ui").Str("kind", kind)
	if len(data) > 0 {
		ev = ev.RawJSON("data", data)
	}
	ev.Msg("room message")
}

func (u *uiLog) OnCallEnded(reason string) {
	log.Info().Str("module", "ui").Str("reason", reason).Msg("call ended")
}

func (u *uiLog) OnChange(p *core.CallParticipant) {
	st := p.State()
	log.Debug().Str("module", "ui").
		Str("sid", string(st.SessionID)).
		Str("ice", st.ICE).
		Bool("audio", st.AudioAvailable).
		Bool("video", st.VideoAvailable).
		Bool("speaking", st.Speaking).
		Bool("hand", st.RaisedHand.State).
		Msg("participant changed")
}

func (u *uiLog) OnReaction(p *core.CallParticipant, reaction string) {
	log.Info().Str("module", "ui").Str("sid", string(p.SessionID())).Str("reaction", reaction).Msg("reaction")
}
