package domain

// CallFlag is the in-call bit set reported by participants updates.
type CallFlag int

const (
	CallFlagDisconnected CallFlag = 0
	CallFlagInCall       CallFlag = 1
	CallFlagWithAudio    CallFlag = 2
	CallFlagWithVideo    CallFlag = 4
	CallFlagWithPhone    CallFlag = 8
)

func (f CallFlag) InCall() bool    { return f&CallFlagInCall != 0 }
func (f CallFlag) WithAudio() bool { return f&CallFlagWithAudio != 0 }
func (f CallFlag) WithVideo() bool { return f&CallFlagWithVideo != 0 }

// Member is one row of a participants update.
// No transport or lifecycle logic here.
type Member struct {
	SessionID SessionID `json:"sessionId"`
	UserID    UserID    `json:"userId"`
	Nick      string    `json:"displayName"`
	InCall    CallFlag  `json:"inCall"`
	Internal  bool      `json:"internal"`
}
