package userstore

import (
	"context"
	"sync"
)

type Memory struct {
	mu    sync.RWMutex
	users map[string]string
}

func NewMemory(seed map[string]string) *Memory {
	var m = &Memory{users: make(map[string]string, len(seed))}
	for k, v := range seed {
		m.users[k] = v
	}
	return m
}

func (m *Memory) List(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out = make(map[string]string, len(m.users))
	for k, v := range m.users {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Lookup(ctx context.Context, user string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pass, ok = m.users[user]
	return pass, ok, nil
}

func (m *Memory) Insert(ctx context.Context, user, password string) error {
	if !ValidUser(user) {
		return ErrInvalidUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user]; ok {
		return ErrExists
	}
	m.users[user] = password
	return nil
}

func (m *Memory) Close() error {
	return nil
}
