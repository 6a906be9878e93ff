// Package store keeps the resumable identity of a control session so a
// restarted process can resume instead of signing in again.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
)

var ErrEmptyKey = errors.New("store: empty key")

type ResumeState struct {
	ResumeID       string           `json:"resumeId"`
	SessionID      domain.SessionID `json:"sessionId"`
	RoomToken      domain.RoomToken `json:"roomToken,omitempty"`
	BackendSession string           `json:"backendSession,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func (s ResumeState) Room() domain.Room {
	return domain.Room{Token: s.RoomToken, BackendSession: s.BackendSession}
}

type ResumeStore interface {
	Load(ctx context.Context, key string) (ResumeState, bool, error)
	Save(ctx context.Context, key string, st ResumeState) error
	Delete(ctx context.Context, key string) error
}

// Memory is the in-process store used when no redis is configured.
type Memory struct {
	mu    sync.RWMutex
	items map[string]ResumeState
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]ResumeState)}
}

func (m *Memory) Load(_ context.Context, key string) (ResumeState, bool, error) {
	if key == "" {
		return ResumeState{}, false, ErrEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.items[key]
	return st, ok, nil
}

func (m *Memory) Save(_ context.Context, key string, st ResumeState) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = st
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
