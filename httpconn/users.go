package httpconn

import (
	"context"
	"errors"
	"sync"

	"github.com/gotcp/httpd/userstore"
)

// Persister stores newly registered users. *userstore.Pool satisfies it.
type Persister interface {
	Insert(ctx context.Context, user, pass string) error
}

// Users is the in-memory user table shared by all connections.
type Users struct {
	mu    sync.RWMutex
	m     map[string]string
	store Persister

	// names reserved by a registration whose store write is in flight
	pending map[string]struct{}
}

func NewUsers(store Persister) *Users {
	return &Users{
		m:       make(map[string]string),
		store:   store,
		pending: make(map[string]struct{}),
	}
}

// Load replaces the table.
func (u *Users) Load(users map[string]string) {
	var m = make(map[string]string, len(users))
	for k, v := range users {
		m[k] = v
	}
	u.mu.Lock()
	u.m = m
	u.mu.Unlock()
}

// Merge adds or overwrites entries without dropping existing ones.
func (u *Users) Merge(users map[string]string) {
	u.mu.Lock()
	for k, v := range users {
		u.m[k] = v
	}
	u.mu.Unlock()
}

func (u *Users) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.m)
}

func (u *Users) Lookup(user string) (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var pass, ok = u.m[user]
	return pass, ok
}

func (u *Users) Login(user, pass string) bool {
	var stored, ok = u.Lookup(user)
	return ok && stored == pass
}

// Register adds a user when the name is free. The name is reserved while the
// store write runs, so lookups are not blocked by a slow store and two racing
// requests for the same name cannot both succeed.
func (u *Users) Register(ctx context.Context, user, pass string) (bool, error) {
	if !userstore.ValidUser(user) {
		return false, nil
	}
	u.mu.Lock()
	var _, taken = u.m[user]
	var _, busy = u.pending[user]
	if taken || busy {
		u.mu.Unlock()
		return false, nil
	}
	u.pending[user] = struct{}{}
	u.mu.Unlock()

	var err error
	if u.store != nil {
		err = u.store.Insert(ctx, user, pass)
	}

	u.mu.Lock()
	delete(u.pending, user)
	if err == nil {
		u.m[user] = pass
	}
	u.mu.Unlock()

	if err != nil {
		if errors.Is(err, userstore.ErrExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
