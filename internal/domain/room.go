package domain

type RoomToken string

// Room identifies the conversation the control session is joined to.
type Room struct {
	Token          RoomToken `json:"token"`
	BackendSession string    `json:"backendSession"`
}

func (r Room) Empty() bool { return r.Token == "" }

// Same reports whether joining other would be a no-op.
func (r Room) Same(other Room) bool {
	return r.Token == other.Token && r.BackendSession == other.BackendSession
}
