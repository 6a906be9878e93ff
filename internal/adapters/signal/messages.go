package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/callsignal/internal/domain"
)

const ProtocolVersion = "1.0"

// Control-channel frame types.
const (
	TypeHello   = "hello"
	TypeError   = "error"
	TypeRoom    = "room"
	TypeEvent   = "event"
	TypeMessage = "message"
	TypeBye     = "bye"
)

// Error codes that change the reconnect path.
const (
	ErrCodeNoSuchSession = "no_such_session"
	ErrCodeHelloExpected = "hello_expected"
)

// Peer-to-peer message types carried in "message" frames.
const (
	MsgOffer           = "offer"
	MsgAnswer          = "answer"
	MsgCandidate       = "candidate"
	MsgEndOfCandidates = "endOfCandidates"
	MsgRequestOffer    = "requestoffer"
	MsgMute            = "mute"
	MsgUnmute          = "unmute"
	MsgNickChanged     = "nickChanged"
	MsgRaiseHand       = "raiseHand"
	MsgReaction        = "reaction"
	MsgUnshareScreen   = "unshareScreen"
)

const FeatureMCU = "mcu"

var ErrNoRecipient = errors.New("signal: message without recipient")

// Envelope is one frame on the control channel.
type Envelope struct {
	ID      string       `json:"id,omitempty"`
	Type    string       `json:"type"`
	Hello   *HelloBody   `json:"hello,omitempty"`
	Room    *RoomBody    `json:"room,omitempty"`
	Message *MessageBody `json:"message,omitempty"`
	Event   *EventBody   `json:"event,omitempty"`
	Error   *ErrorBody   `json:"error,omitempty"`
	Bye     *ByeBody     `json:"bye,omitempty"`
}

type HelloBody struct {
	Version   string       `json:"version,omitempty"`
	ResumeID  string       `json:"resumeid,omitempty"`
	SessionID string       `json:"sessionid,omitempty"`
	UserID    string       `json:"userid,omitempty"`
	Auth      *HelloAuth   `json:"auth,omitempty"`
	Server    *HelloServer `json:"server,omitempty"`
}

type HelloAuth struct {
	URL    string          `json:"url"`
	Params HelloAuthParams `json:"params"`
}

type HelloAuthParams struct {
	UserID string `json:"userid,omitempty"`
	Ticket string `json:"ticket"`
}

type HelloServer struct {
	Version  string   `json:"version,omitempty"`
	Features []string `json:"features,omitempty"`
}

type RoomBody struct {
	RoomID     string          `json:"roomid"`
	SessionID  string          `json:"sessionid,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

type Endpoint struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionid,omitempty"`
	UserID    string `json:"userid,omitempty"`
}

type MessageBody struct {
	Sender    *Endpoint       `json:"sender,omitempty"`
	Recipient *Endpoint       `json:"recipient,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type EventBody struct {
	Target  string              `json:"target"`
	Type    string              `json:"type"`
	Join    []EventSession      `json:"join,omitempty"`
	Leave   []domain.SessionID  `json:"leave,omitempty"`
	Message *RoomEventMessage   `json:"message,omitempty"`
	Update  *ParticipantsUpdate `json:"update,omitempty"`
}

type EventSession struct {
	SessionID domain.SessionID `json:"sessionid"`
	UserID    domain.UserID    `json:"userid,omitempty"`
	User      json.RawMessage  `json:"user,omitempty"`
}

// DisplayName reads user.displayname, empty when absent or malformed.
func (s EventSession) DisplayName() string {
	if len(s.User) == 0 {
		return ""
	}
	var u struct {
		DisplayName string `json:"displayname"`
	}
	if err := json.Unmarshal(s.User, &u); err != nil {
		return ""
	}
	return u.DisplayName
}

type RoomEventMessage struct {
	RoomID string          `json:"roomid"`
	Data   json.RawMessage `json:"data"`
}

// ParticipantsUpdate carries in-call flags; All with InCall zero ends the call for everyone.
type ParticipantsUpdate struct {
	RoomID string          `json:"roomid"`
	Users  []domain.Member `json:"users,omitempty"`
	All    bool            `json:"all,omitempty"`
	InCall domain.CallFlag `json:"incall,omitempty"`
}

type ErrorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *ErrorBody) Error() string { return e.Code + ": " + e.Message }

type ByeBody struct{}

// Message is the signaling payload exchanged with one participant.
type Message struct {
	From     domain.SessionID `json:"from,omitempty"`
	To       domain.SessionID `json:"to,omitempty"`
	Type     string           `json:"type"`
	RoomType string           `json:"roomType,omitempty"`
	Sid      string           `json:"sid,omitempty"`
	Prefix   string           `json:"prefix,omitempty"`
	Payload  json.RawMessage  `json:"payload,omitempty"`
}

// NewMessage marshals payload; a nil payload leaves it out.
func NewMessage(typ string, to domain.SessionID, payload any) (Message, error) {
	m := Message{Type: typ, To: to}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	m.Payload = raw
	return m, nil
}

func (m Message) StreamType() domain.VideoStreamType {
	return domain.ParseVideoStreamType(m.RoomType)
}

func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("signal: empty payload")
	}
	return json.Unmarshal(m.Payload, v)
}

type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	Nick string `json:"nick,omitempty"`
}

type CandidateInfo struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type CandidatePayload struct {
	Candidate CandidateInfo `json:"candidate"`
}

// MediaPayload names the media kind of mute and unmute.
type MediaPayload struct {
	Name string `json:"name"`
}

type ReactionPayload struct {
	Reaction string `json:"reaction"`
}

// NickPayload accepts both the bare string and the {userid,name} object forms.
type NickPayload struct {
	UserID string `json:"userid,omitempty"`
	Name   string `json:"name"`
}

func (n *NickPayload) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		n.Name = s
		return nil
	}
	type plain NickPayload
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*n = NickPayload(p)
	return nil
}
