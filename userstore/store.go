// Package userstore is the credential store behind the login and
// registration endpoints. A Backend keeps username/password pairs; a Pool
// leases sessions on a backend to a bounded number of concurrent callers.
//
// Backends are selected by URL:
//
//	mem://                                   in-memory (tests/dev)
//	file:///var/lib/httpd/users.yaml         YAML file, rewritten atomically
//	s3://host[:port]/bucket[/prefix]?insecure=1
//	                                         one object per user (MinIO/S3)
package userstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrExists      = errors.New("userstore: user exists")
	ErrInvalidUser = errors.New("userstore: invalid username")
	ErrClosed      = errors.New("userstore: pool closed")
	ErrUnsupported = errors.New("userstore: unsupported store url")
)

type Backend interface {
	// List returns every stored credential.
	List(ctx context.Context) (map[string]string, error)
	Lookup(ctx context.Context, user string) (string, bool, error)
	// Insert stores a new credential and fails with ErrExists for a
	// username that is already present.
	Insert(ctx context.Context, user, password string) error
	Close() error
}

// ValidUser reports whether name can be stored by every backend.
func ValidUser(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00\r\n")
}

// Open builds the backend described by rawURL.
func Open(ctx context.Context, rawURL string) (Backend, error) {
	var u, err = url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("userstore: parse %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "mem", "memory":
		return NewMemory(nil), nil
	case "file", "disk":
		var path = u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return nil, fmt.Errorf("%w: file store needs a path", ErrUnsupported)
		}
		return NewFile(path)
	case "s3":
		var cfg, err = s3ConfigFromURL(u)
		if err != nil {
			return nil, err
		}
		return NewS3(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, rawURL)
}
