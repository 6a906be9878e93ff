// Package auth supplies the credentials a control session signs in with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingURL    = errors.New("auth: missing backend url")
	ErrMissingSecret = errors.New("auth: missing ticket secret")
	ErrInvalidTicket = errors.New("auth: invalid ticket")
)

// Credentials are sent in the full hello.
type Credentials struct {
	URL    string
	UserID string
	Ticket string
}

type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static hands out a ticket obtained out of band.
type Static Credentials

func (s Static) Credentials(context.Context) (Credentials, error) {
	if s.URL == "" {
		return Credentials{}, ErrMissingURL
	}
	return Credentials(s), nil
}

type TicketClaims struct {
	UserID string `json:"userid"`
	jwt.RegisteredClaims
}

// SignedTicket mints a short-lived HS256 ticket per hello.
type SignedTicket struct {
	URL    string
	UserID string
	Issuer string
	Secret []byte
	TTL    time.Duration

	now func() time.Time
}

func (s *SignedTicket) Credentials(context.Context) (Credentials, error) {
	if s.URL == "" {
		return Credentials{}, ErrMissingURL
	}
	if len(s.Secret) == 0 {
		return Credentials{}, ErrMissingSecret
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	issued := now()
	claims := TicketClaims{
		UserID: s.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.Issuer,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.TTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return Credentials{}, fmt.Errorf("sign ticket: %w", err)
	}
	return Credentials{URL: s.URL, UserID: s.UserID, Ticket: signed}, nil
}

// VerifyTicket is the backend half of SignedTicket.
func VerifyTicket(secret []byte, ticket string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}
	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
