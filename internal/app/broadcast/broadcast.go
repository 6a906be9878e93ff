// Package broadcast keeps every remote participant informed of the local
// media state.
package broadcast

import (
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/app/sender"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/rs/zerolog/log"
)

type LocalStateBroadcaster interface {
	HandleCallParticipantAdded(p *core.CallParticipant)
	HandleCallParticipantRemoved(p *core.CallParticipant)
	Destroy()
}

type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type SystemScheduler struct{}

func (SystemScheduler) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

func audioMessage(on bool) rtc.StatusMessage {
	if on {
		return rtc.StatusMessage{Type: rtc.StatusAudioOn}
	}
	return rtc.StatusMessage{Type: rtc.StatusAudioOff}
}

func speakingMessage(on bool) rtc.StatusMessage {
	if on {
		return rtc.StatusMessage{Type: rtc.StatusSpeaking}
	}
	return rtc.StatusMessage{Type: rtc.StatusStoppedSpeaking}
}

func videoMessage(on bool) rtc.StatusMessage {
	if on {
		return rtc.StatusMessage{Type: rtc.StatusVideoOn}
	}
	return rtc.StatusMessage{Type: rtc.StatusVideoOff}
}

// speaking is only advertised while audio is on.
func speaking(s core.LocalState) bool { return s.Speaking && s.AudioEnabled }

// Diff returns the status messages that move a remote view from prev to next,
// in audio, speaking, video order.
func Diff(prev, next core.LocalState) []rtc.StatusMessage {
	var out []rtc.StatusMessage
	if prev.AudioEnabled != next.AudioEnabled {
		out = append(out, audioMessage(next.AudioEnabled))
	}
	if speaking(prev) != speaking(next) {
		out = append(out, speakingMessage(speaking(next)))
	}
	if prev.VideoEnabled != next.VideoEnabled {
		out = append(out, videoMessage(next.VideoEnabled))
	}
	return out
}

// FullState describes s completely.
func FullState(s core.LocalState) []rtc.StatusMessage {
	return []rtc.StatusMessage{
		audioMessage(s.AudioEnabled),
		speakingMessage(speaking(s)),
		videoMessage(s.VideoEnabled),
	}
}

func mediaSignal(kind string, on bool) signal.Message {
	typ := signal.MsgMute
	if on {
		typ = signal.MsgUnmute
	}
	m, err := signal.NewMessage(typ, "", signal.MediaPayload{Name: kind})
	if err != nil {
		log.Error().Err(err).Str("module", "broadcast").Msg("encode media message")
	}
	return m
}

// base holds what both strategies share. mu is held while sending, so
// nothing goes out once Destroy returns.
type base struct {
	mu        sync.Mutex
	local     *core.LocalParticipant
	data      sender.DataSender
	last      core.LocalState
	destroyed bool
}

func (b *base) sendAllLocked(msgs []rtc.StatusMessage) {
	for _, m := range msgs {
		b.data.SendToAll(m)
	}
}
