package signal

import (
	"sync"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

type MessageHandler interface {
	HandleSignalingMessage(m Message)
}

type peerKey struct {
	sid      domain.SessionID
	roomType domain.VideoStreamType
}

// Receiver fans inbound participant messages out to their handlers:
// negotiation messages by (session, stream type), everything else by session.
type Receiver struct {
	mu           sync.RWMutex
	peers        map[peerKey]MessageHandler
	participants map[domain.SessionID]MessageHandler
	offers       MessageHandler
}

func NewReceiver() *Receiver {
	return &Receiver{
		peers:        make(map[peerKey]MessageHandler),
		participants: make(map[domain.SessionID]MessageHandler),
	}
}

func (r *Receiver) AddPeerHandler(sid domain.SessionID, st domain.VideoStreamType, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peerKey{sid, st}] = h
}

// RemovePeerHandler only removes h itself, so a replaced wrapper cannot evict its successor.
func (r *Receiver) RemovePeerHandler(sid domain.SessionID, st domain.VideoStreamType, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := peerKey{sid, st}
	if cur, ok := r.peers[k]; ok && cur == h {
		delete(r.peers, k)
	}
}

func (r *Receiver) AddParticipantHandler(sid domain.SessionID, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[sid] = h
}

func (r *Receiver) RemoveParticipantHandler(sid domain.SessionID, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.participants[sid]; ok && cur == h {
		delete(r.participants, sid)
	}
}

// SetOfferHandler receives offers for which no peer handler exists yet.
func (r *Receiver) SetOfferHandler(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = h
}

func isPeerMessage(typ string) bool {
	switch typ {
	case MsgOffer, MsgAnswer, MsgCandidate, MsgEndOfCandidates:
		return true
	}
	return false
}

func (r *Receiver) Dispatch(m Message) {
	r.mu.RLock()
	var h MessageHandler
	if isPeerMessage(m.Type) {
		h = r.peers[peerKey{m.From, m.StreamType()}]
		if h == nil && m.Type == MsgOffer {
			h = r.offers
		}
	} else {
		h = r.participants[m.From]
	}
	r.mu.RUnlock()

	if h == nil {
		log.Debug().Str("module", "signal").Str("from", string(m.From)).Str("type", m.Type).Msg("no handler for message")
		return
	}
	h.HandleSignalingMessage(m)
}
