// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen = 64
	MaxNickLen   = 64
)

var (
	ErrNickTooLong   = errors.New("nick too long")
	ErrNickEmpty     = errors.New("nick empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// User is the identity the local process signs in with.
// An empty ID means a guest.
type User struct {
	ID   UserID `json:"id"`
	Nick string `json:"nick"`
}

func NewUser(id UserID, nick string) (*User, error) {
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	u := &User{ID: id}
	if err := u.SetNick(nick); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetNick(nick string) error {
	nick = strings.TrimSpace(nick)
	if len(nick) == 0 {
		return ErrNickEmpty
	}
	if len(nick) > MaxNickLen {
		return ErrNickTooLong
	}
	u.Nick = nick
	return nil
}

func (u *User) IsGuest() bool { return u.ID == "" }
