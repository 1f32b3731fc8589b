package httpconn

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// resolve maps a fully parsed request onto the document root. The account
// targets consult the user table and then serve one of the result pages.
func (c *Conn) resolve() HttpCode {
	switch c.url {
	case LOGIN_TARGET, REGISTER_TARGET:
		return c.resolveAccount()
	}
	return c.resolveFile(c.url)
}

func (c *Conn) resolveAccount() HttpCode {
	if c.users == nil {
		return INTERNAL_ERROR
	}
	var form = c.query
	if c.method == METHOD_POST {
		form = c.body
	}
	var values, err = url.ParseQuery(form)
	if err != nil {
		return REQUEST_MALFORMED
	}
	var user = values.Get("user")
	var pass = values.Get("pass")
	if pass == "" {
		pass = values.Get("password")
	}

	var page string
	if c.url == LOGIN_TARGET {
		if user != "" && c.users.Login(user, pass) {
			page = c.cfg.Pages.LoginOK
		} else {
			page = c.cfg.Pages.LoginFailed
		}
		c.log.Debug("login", "user", user, "page", page)
	} else {
		var ok bool
		if user != "" {
			var ctx, cancel = context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
			ok, err = c.users.Register(ctx, user, pass)
			cancel()
			if err != nil {
				c.log.Error("register failed", "user", user, "error", err)
				return INTERNAL_ERROR
			}
		}
		if ok {
			page = c.cfg.Pages.RegisterOK
		} else {
			page = c.cfg.Pages.RegisterFailed
		}
		c.log.Debug("register", "user", user, "created", ok)
	}
	return c.resolveFile("/" + page)
}

func (c *Conn) resolveFile(target string) HttpCode {
	for _, seg := range strings.Split(target, "/") {
		if seg == ".." {
			return REQUEST_MALFORMED
		}
	}
	if target == "/" {
		target = "/" + c.cfg.IndexFile
	}
	var root = filepath.Clean(c.cfg.DocRoot)
	var file = filepath.Join(root, filepath.FromSlash(path.Clean(target)))
	if rel, err := filepath.Rel(root, file); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return REQUEST_MALFORMED
	}
	c.realFile = file

	var info, err = os.Stat(file)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return RESOURCE_FORBIDDEN
		}
		return RESOURCE_MISSING
	}
	if info.IsDir() {
		return REQUEST_MALFORMED
	}
	if info.Mode().Perm()&0o004 == 0 {
		return RESOURCE_FORBIDDEN
	}
	c.fileInfo = info
	if info.Size() == 0 {
		c.fileData = nil
		return RESOURCE_READY
	}

	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return RESOURCE_FORBIDDEN
		}
		return RESOURCE_MISSING
	}
	defer f.Close()
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		c.log.Error("mmap failed", "file", file, "error", err)
		return INTERNAL_ERROR
	}
	c.fileData = data
	return RESOURCE_READY
}

func (c *Conn) unmap() {
	if c.fileData != nil {
		if err := unix.Munmap(c.fileData); err != nil && c.log != nil {
			c.log.Warn("munmap failed", "file", c.realFile, "error", err)
		}
		c.fileData = nil
	}
}
