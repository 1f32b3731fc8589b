package httpconn

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gotcp/httpd/userstore"
)

const indexBody = "<html><body>hello</body></html>\n"

func newDocRoot(t *testing.T) string {
	t.Helper()
	var root = t.TempDir()
	var files = map[string]string{
		"index.html":         indexBody,
		"welcome.html":       "welcome\n",
		"logError.html":      "login failed\n",
		"log.html":           "registered\n",
		"registerError.html": "register failed\n",
		"style.css":          "body{}\n",
		"empty.html":         "",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	var secret = filepath.Join(root, "secret.html")
	require.NoError(t, os.WriteFile(secret, []byte("secret\n"), 0o600))
	require.NoError(t, os.Chmod(secret, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	return root
}

// newSocketConn returns a Conn bound to one end of a nonblocking socketpair
// and the descriptor of the other end.
func newSocketConn(t *testing.T, cfg Config, users *Users) (*Conn, int) {
	t.Helper()
	var fds, err = unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	var c = New(cfg)
	c.Init(fds[0], "socketpair", users, nil)
	t.Cleanup(c.Close)
	return c, fds[1]
}

func send(t *testing.T, fd int, s string) {
	t.Helper()
	var n, err = unix.Write(fd, []byte(s))
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

// drain reads whatever the peer has buffered.
func drain(t *testing.T, fd int) []byte {
	t.Helper()
	var out []byte
	var buf = make([]byte, 64*1024)
	for {
		var n, err = unix.Read(fd, buf)
		if err == unix.EAGAIN {
			return out
		}
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

type response struct {
	status string
	header string
	body   string
}

func splitResponses(t *testing.T, raw []byte) []response {
	t.Helper()
	var out []response
	for len(raw) > 0 {
		var end = bytes.Index(raw, []byte("\r\n\r\n"))
		require.GreaterOrEqual(t, end, 0, "incomplete header in %q", raw)
		var head = string(raw[:end])
		raw = raw[end+4:]
		var lines = strings.Split(head, "\r\n")
		var length = 0
		for _, l := range lines[1:] {
			if v, ok := strings.CutPrefix(l, "Content-Length: "); ok {
				var err error
				length, err = strconv.Atoi(v)
				require.NoError(t, err)
			}
		}
		require.LessOrEqual(t, length, len(raw))
		out = append(out, response{status: lines[0], header: head, body: string(raw[:length])})
		raw = raw[length:]
	}
	return out
}

func roundTrip(t *testing.T, c *Conn, peer int, req string) (Next, []response) {
	t.Helper()
	send(t, peer, req)
	require.True(t, c.Read())
	var next = c.Process()
	if next == NEXT_WRITE {
		next = c.Write()
	}
	return next, splitResponses(t, drain(t, peer))
}

func TestServeFiles(t *testing.T) {
	var root = newDocRoot(t)
	var cases = []struct {
		name   string
		req    string
		status string
		body   string
		ctype  string
	}{
		{"index", "GET /index.html HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", indexBody, "text/html"},
		{"root", "GET / HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", indexBody, "text/html"},
		{"absolute", "GET http://localhost/style.css HTTP/1.0\r\n\r\n", "HTTP/1.1 200 OK", "body{}\n", "text/css"},
		{"empty", "GET /empty.html HTTP/1.1\r\n\r\n", "HTTP/1.1 200 OK", "", "text/html"},
		{"missing", "GET /nope.html HTTP/1.1\r\n\r\n", "HTTP/1.1 404 Not Found", ERROR_404_FORM, "text/plain"},
		{"forbidden", "GET /secret.html HTTP/1.1\r\n\r\n", "HTTP/1.1 403 Forbidden", ERROR_403_FORM, "text/plain"},
		{"directory", "GET /sub HTTP/1.1\r\n\r\n", "HTTP/1.1 400 Bad Request", ERROR_400_FORM, "text/plain"},
		{"escape", "GET /../../etc/passwd HTTP/1.1\r\n\r\n", "HTTP/1.1 400 Bad Request", ERROR_400_FORM, "text/plain"},
		{"method", "DELETE /index.html HTTP/1.1\r\n\r\n", "HTTP/1.1 400 Bad Request", ERROR_400_FORM, "text/plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var c, peer = newSocketConn(t, Config{DocRoot: root}, nil)
			var next, resps = roundTrip(t, c, peer, tc.req)
			assert.Equal(t, NEXT_CLOSE, next)
			require.Len(t, resps, 1)
			assert.Equal(t, tc.status, resps[0].status)
			assert.Equal(t, tc.body, resps[0].body)
			assert.Contains(t, resps[0].header, "Content-Type: "+tc.ctype)
			assert.Contains(t, resps[0].header, "Connection: close")
		})
	}
}

func TestIncompleteRequestWaitsForMore(t *testing.T) {
	var c, peer = newSocketConn(t, Config{DocRoot: newDocRoot(t)}, nil)
	send(t, peer, "GET /index.html HT")
	require.True(t, c.Read())
	assert.Equal(t, NEXT_READ, c.Process())
	send(t, peer, "TP/1.1\r\n\r\n")
	require.True(t, c.Read())
	require.Equal(t, NEXT_WRITE, c.Process())
	assert.Equal(t, 200, c.Status())
	assert.Equal(t, NEXT_CLOSE, c.Write())
}

func TestReadReportsPeerClose(t *testing.T) {
	var c, peer = newSocketConn(t, Config{DocRoot: newDocRoot(t)}, nil)
	require.True(t, c.Read(), "nothing to read is not an error")
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	assert.False(t, c.Read())
}

func TestEdgeTriggeredReadDrains(t *testing.T) {
	var c, peer = newSocketConn(t, Config{DocRoot: newDocRoot(t), EdgeTriggered: true}, nil)
	send(t, peer, "GET /index.html HTTP/1.1\r\n")
	send(t, peer, "Connection: keep-alive\r\n\r\n")
	require.True(t, c.Read())
	assert.Equal(t, NEXT_WRITE, c.Process())
	assert.True(t, c.KeepAlive())
}

func TestKeepAlivePipelining(t *testing.T) {
	var c, peer = newSocketConn(t, Config{DocRoot: newDocRoot(t)}, nil)
	send(t, peer, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
		"GET /style.css HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	require.True(t, c.Read())
	require.Equal(t, NEXT_WRITE, c.Process())
	assert.Equal(t, NEXT_WRITE, c.Write(), "second request is processed from buffered bytes")
	assert.Equal(t, "/style.css", c.URL())
	assert.Equal(t, NEXT_READ, c.Write())
	assert.False(t, c.PendingInput())

	var resps = splitResponses(t, drain(t, peer))
	require.Len(t, resps, 2)
	assert.Equal(t, indexBody, resps[0].body)
	assert.Contains(t, resps[0].header, "Connection: keep-alive")
	assert.Equal(t, "body{}\n", resps[1].body)

	var next, more = roundTrip(t, c, peer, "GET /nope HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	assert.Equal(t, NEXT_READ, next, "404 keeps the connection")
	require.Len(t, more, 1)
	assert.Equal(t, "HTTP/1.1 404 Not Found", more[0].status)
}

func TestLargeFilePartialWrites(t *testing.T) {
	var root = newDocRoot(t)
	var big = bytes.Repeat([]byte("0123456789abcdef"), 256*1024)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644))

	var c, peer = newSocketConn(t, Config{DocRoot: root}, nil)
	send(t, peer, "GET /big.bin HTTP/1.1\r\n\r\n")
	require.True(t, c.Read())
	require.Equal(t, NEXT_WRITE, c.Process())

	var got []byte
	var stalls = 0
	for {
		var next = c.Write()
		got = append(got, drain(t, peer)...)
		if next == NEXT_CLOSE {
			break
		}
		require.Equal(t, NEXT_WRITE, next)
		stalls++
	}
	assert.Greater(t, stalls, 0)
	var resps = splitResponses(t, got)
	require.Len(t, resps, 1)
	assert.Contains(t, resps[0].header, "Content-Type: application/octet-stream")
	assert.True(t, bytes.Equal(big, []byte(resps[0].body)))
}

func TestHeaderOverflowClosesWithoutResponse(t *testing.T) {
	var c, peer = newSocketConn(t, Config{DocRoot: newDocRoot(t), WriteBufferSize: 16}, nil)
	send(t, peer, "GET /index.html HTTP/1.1\r\n\r\n")
	require.True(t, c.Read())
	assert.Equal(t, NEXT_CLOSE, c.Process())
	assert.Empty(t, drain(t, peer))
}

func TestLoginAndRegister(t *testing.T) {
	var root = newDocRoot(t)
	var pool = userstore.NewPool(userstore.NewMemory(map[string]string{"alice": "secret"}), 2)
	var seed, err = pool.LoadAll(context.Background())
	require.NoError(t, err)
	var users = NewUsers(pool)
	users.Load(seed)

	var post = func(target, body string) string {
		return "POST " + target + " HTTP/1.1\r\nContent-Length: " +
			strconv.Itoa(len(body)) + "\r\n\r\n" + body
	}
	var cases = []struct {
		name string
		req  string
		body string
	}{
		{"login ok", post("/login", "user=alice&pass=secret"), "welcome\n"},
		{"login password alias", post("/login", "user=alice&password=secret"), "welcome\n"},
		{"login bad password", post("/login", "user=alice&pass=nope"), "login failed\n"},
		{"login unknown", post("/login", "user=mallory&pass=x"), "login failed\n"},
		{"login empty", post("/login", ""), "login failed\n"},
		{"login query", "GET /login?user=alice&pass=secret HTTP/1.1\r\n\r\n", "welcome\n"},
		{"register new", post("/register", "user=bob&pass=hunter2"), "registered\n"},
		{"register taken", post("/register", "user=alice&pass=x"), "register failed\n"},
		{"register invalid", post("/register", "user=a%2Fb&pass=x"), "register failed\n"},
		{"login registered", post("/login", "user=bob&pass=hunter2"), "welcome\n"},
	}
	for _, tc := range cases {
		var c, peer = newSocketConn(t, Config{DocRoot: root}, users)
		var _, resps = roundTrip(t, c, peer, tc.req)
		require.Len(t, resps, 1, tc.name)
		assert.Equal(t, "HTTP/1.1 200 OK", resps[0].status, tc.name)
		assert.Equal(t, tc.body, resps[0].body, tc.name)
	}

	var pass, ok, lerr = pool.Backend().Lookup(context.Background(), "bob")
	require.NoError(t, lerr)
	assert.True(t, ok)
	assert.Equal(t, "hunter2", pass)

	// the rejected registration of a taken name leaves both tables alone
	assert.True(t, users.Login("alice", "secret"))
	assert.False(t, users.Login("alice", "x"))
	pass, ok, lerr = pool.Backend().Lookup(context.Background(), "alice")
	require.NoError(t, lerr)
	assert.True(t, ok)
	assert.Equal(t, "secret", pass)
	stored, lerr := pool.Backend().List(context.Background())
	require.NoError(t, lerr)
	assert.Len(t, stored, 2)
}

type failingStore struct{}

func (failingStore) Insert(context.Context, string, string) error {
	return errors.New("store unavailable")
}

func TestRegisterStoreFailure(t *testing.T) {
	var c, peer = newSocketConn(t, Config{DocRoot: newDocRoot(t)}, NewUsers(failingStore{}))
	var next, resps = roundTrip(t, c, peer, "GET /register?user=bob&pass=x HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	assert.Equal(t, NEXT_CLOSE, next)
	require.Len(t, resps, 1)
	assert.Equal(t, "HTTP/1.1 500 Internal Error", resps[0].status)
}

func TestAccountTargetWithoutUsers(t *testing.T) {
	var c, peer = newSocketConn(t, Config{DocRoot: newDocRoot(t)}, nil)
	var _, resps = roundTrip(t, c, peer, "GET /login?user=a&pass=b HTTP/1.1\r\n\r\n")
	require.Len(t, resps, 1)
	assert.Equal(t, "HTTP/1.1 500 Internal Error", resps[0].status)
}
