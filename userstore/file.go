package userstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Users map[string]string `yaml:"users"`
}

// File keeps credentials in a YAML document:
//
//	users:
//	  alice: secret
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) (*File, error) {
	var abs, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("userstore: resolve %q: %w", path, err)
	}
	var f = &File{path: abs}
	if _, err = f.read(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) List(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *File) Lookup(ctx context.Context, user string) (string, bool, error) {
	var users, err = f.List(ctx)
	if err != nil {
		return "", false, err
	}
	var pass, ok = users[user]
	return pass, ok, nil
}

func (f *File) Insert(ctx context.Context, user, password string) error {
	if !ValidUser(user) {
		return ErrInvalidUser
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var users, err = f.read()
	if err != nil {
		return err
	}
	if _, ok := users[user]; ok {
		return ErrExists
	}
	users[user] = password
	return f.write(users)
}

func (f *File) Close() error {
	return nil
}

// Watch calls fn with the full credential set whenever the file is changed
// by another writer. It returns once the watch is established; the watch
// ends with ctx.
func (f *File) Watch(ctx context.Context, fn func(map[string]string), onError func(error)) error {
	var w, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("userstore: watch: %w", err)
	}
	if err = w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("userstore: watch %q: %w", filepath.Dir(f.path), err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != f.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				var users, err = f.List(ctx)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				fn(users)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return nil
}

func (f *File) read() (map[string]string, error) {
	var raw, err = os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("userstore: read %q: %w", f.path, err)
	}
	var doc fileDocument
	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("userstore: decode %q: %w", f.path, err)
	}
	if doc.Users == nil {
		doc.Users = map[string]string{}
	}
	return doc.Users, nil
}

func (f *File) write(users map[string]string) error {
	var raw, err = yaml.Marshal(fileDocument{Users: users})
	if err != nil {
		return fmt.Errorf("userstore: encode: %w", err)
	}
	var tmp = f.path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("userstore: write %q: %w", tmp, err)
	}
	if err = os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("userstore: rename %q: %w", tmp, err)
	}
	return nil
}
