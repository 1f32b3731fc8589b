package epoll

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotcp/httpd/httpconn"
)

const indexBody = "<html><body>index</body></html>\n"

func writeDocRoot(t *testing.T) string {
	t.Helper()
	var root = t.TempDir()
	var files = map[string]string{
		"index.html":         indexBody,
		"welcome.html":       "welcome\n",
		"logError.html":      "login failed\n",
		"log.html":           "registered\n",
		"registerError.html": "register failed\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	return root
}

func testConfig(t *testing.T) Config {
	var cfg = DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DocRoot = writeDocRoot(t)
	cfg.Threads = 4
	cfg.QueueLength = 64
	cfg.EpollEvents = 64
	cfg.WakeAlarm = true
	return cfg
}

func startServer(t *testing.T, cfg Config, setup func(ep *EP)) *EP {
	t.Helper()
	var ep, err = New(cfg)
	require.NoError(t, err)
	if setup != nil {
		setup(ep)
	}
	require.NoError(t, ep.InitEpoll())
	require.NotZero(t, ep.Port)

	var errc = make(chan error, 1)
	go func() { errc <- ep.Serve(context.Background()) }()
	t.Cleanup(func() {
		ep.Stop()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("event loop did not stop")
		}
	})
	return ep
}

func dial(t *testing.T, ep *EP) net.Conn {
	t.Helper()
	var conn, err = net.DialTimeout("tcp", ep.Addr(), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, br *bufio.Reader, raw string) (*http.Response, string) {
	t.Helper()
	var _, err = io.WriteString(conn, raw)
	require.NoError(t, err)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestServeStaticFile(t *testing.T) {
	var ep = startServer(t, testConfig(t), nil)
	var conn = dial(t, ep)
	var _, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)
	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "HTTP/1.1 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(string(raw), "\r\n\r\n"+indexBody))
	assert.Contains(t, string(raw), "Connection: close")

	require.Eventually(t, func() bool { return ep.Open() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(ep.Metrics.Accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(ep.Metrics.Responses.WithLabelValues("200")))
}

func TestServeModes(t *testing.T) {
	var modes = []struct {
		name     string
		actor    ActorModel
		listenET bool
		connET   bool
	}{
		{"reactor-lt", ACTOR_REACTOR, false, false},
		{"reactor-et", ACTOR_REACTOR, true, true},
		{"proactor-lt", ACTOR_PROACTOR, false, false},
		{"proactor-et", ACTOR_PROACTOR, true, true},
		{"mixed", ACTOR_REACTOR, true, false},
	}
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			var cfg = testConfig(t)
			cfg.Actor = mode.actor
			cfg.ListenET = mode.listenET
			cfg.ConnET = mode.connET
			var ep = startServer(t, cfg, nil)
			var conn = dial(t, ep)
			var br = bufio.NewReader(conn)

			for i := 0; i < 3; i++ {
				var resp, body = roundTrip(t, conn, br, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
				assert.Equal(t, 200, resp.StatusCode)
				assert.Equal(t, indexBody, body)
			}
			var resp, _ = roundTrip(t, conn, br, "GET /missing.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
			assert.Equal(t, 404, resp.StatusCode)
			resp, _ = roundTrip(t, conn, br, "GET /index.html HTTP/1.1\r\n\r\n")
			assert.Equal(t, 200, resp.StatusCode)
			var _, err = br.ReadByte()
			assert.ErrorIs(t, err, io.EOF)

			require.Eventually(t, func() bool { return ep.Open() == 0 }, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, 4.0, testutil.ToFloat64(ep.Metrics.Responses.WithLabelValues("200")))
			assert.Equal(t, 1.0, testutil.ToFloat64(ep.Metrics.Responses.WithLabelValues("404")))
		})
	}
}

func TestPipelinedRequests(t *testing.T) {
	var ep = startServer(t, testConfig(t), nil)
	var conn = dial(t, ep)
	var _, err = io.WriteString(conn,
		"GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
			"GET /welcome.html HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	var br = bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	first, _ := io.ReadAll(resp.Body)
	resp, err = http.ReadResponse(br, nil)
	require.NoError(t, err)
	second, _ := io.ReadAll(resp.Body)
	assert.Equal(t, indexBody, string(first))
	assert.Equal(t, "welcome\n", string(second))
}

func TestBadRequestCloses(t *testing.T) {
	var ep = startServer(t, testConfig(t), nil)
	var conn = dial(t, ep)
	var _, err = io.WriteString(conn, "BREW /pot HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	require.NoError(t, err)
	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "HTTP/1.1 400 Bad Request\r\n"))
}

func TestLoginThroughServer(t *testing.T) {
	var users = httpconn.NewUsers(nil)
	users.Load(map[string]string{"alice": "secret"})
	var ep = startServer(t, testConfig(t), func(ep *EP) { ep.SetUsers(users) })
	var conn = dial(t, ep)
	var br = bufio.NewReader(conn)
	var form = "user=alice&pass=secret"
	var resp, body = roundTrip(t, conn, br, "POST /login HTTP/1.1\r\nConnection: keep-alive\r\nContent-Length: 22\r\n\r\n"+form)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "welcome\n", body)

	resp, body = roundTrip(t, conn, br, "GET /register?user=bob&pass=pw HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "registered\n", body)
	assert.True(t, users.Login("bob", "pw"))
}

func waitClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	var buf = make([]byte, 16)
	var _, err = conn.Read(buf)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatal("connection was not closed by the server")
	}
	require.Error(t, err)
}

func TestIdleEviction(t *testing.T) {
	for _, wake := range []bool{true, false} {
		var name = "itimer"
		if wake {
			name = "wake"
		}
		t.Run(name, func(t *testing.T) {
			var cfg = testConfig(t)
			cfg.WakeAlarm = wake
			cfg.IdleTimeout = 150 * time.Millisecond
			cfg.Renewal = 150 * time.Millisecond
			cfg.Timeslot = 50 * time.Millisecond
			var closed atomic.Int32
			var ep = startServer(t, cfg, func(ep *EP) {
				ep.OnClose = func(id xid.ID, fd int) { closed.Add(1) }
			})
			var conn = dial(t, ep)
			waitClosed(t, conn)
			require.Eventually(t, func() bool { return ep.Open() == 0 }, 2*time.Second, 10*time.Millisecond)
			assert.EqualValues(t, 1, closed.Load())
			assert.Equal(t, 1.0, testutil.ToFloat64(ep.Metrics.Evicted))
		})
	}
}

func TestActiveConnectionIsRenewed(t *testing.T) {
	var cfg = testConfig(t)
	cfg.IdleTimeout = 300 * time.Millisecond
	cfg.Renewal = 300 * time.Millisecond
	cfg.Timeslot = 50 * time.Millisecond
	var ep = startServer(t, cfg, nil)
	var conn = dial(t, ep)
	var br = bufio.NewReader(conn)
	var deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var resp, _ = roundTrip(t, conn, br, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(ep.Metrics.Evicted))
}

func TestPeerCloseTearsDown(t *testing.T) {
	var ep = startServer(t, testConfig(t), nil)
	var conn = dial(t, ep)
	require.Eventually(t, func() bool { return ep.Open() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return ep.Open() == 0 && ep.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMaxConnections(t *testing.T) {
	var cfg = testConfig(t)
	cfg.MaxConnections = 1
	var accepted atomic.Int32
	var ep = startServer(t, cfg, func(ep *EP) {
		ep.OnAccept = func(id xid.ID, fd int, addr string) { accepted.Add(1) }
	})
	dial(t, ep)
	require.Eventually(t, func() bool { return ep.Open() == 1 }, 2*time.Second, 10*time.Millisecond)

	var second = dial(t, ep)
	var raw, err = io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, string(BUSY_MESSAGE), string(raw))
	assert.EqualValues(t, 1, accepted.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(ep.Metrics.Rejected))
}

func TestStopClosesConnections(t *testing.T) {
	var ep = startServer(t, testConfig(t), nil)
	var conn = dial(t, ep)
	require.Eventually(t, func() bool { return ep.Open() == 1 }, 2*time.Second, 10*time.Millisecond)
	ep.Stop()
	select {
	case <-ep.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not stop")
	}
	waitClosed(t, conn)
	assert.EqualValues(t, 0, ep.Open())
}

func TestServeRequiresListener(t *testing.T) {
	var ep, err = New(testConfig(t))
	require.NoError(t, err)
	defer ep.Close()
	assert.ErrorIs(t, ep.Serve(context.Background()), ErrorNotListening)
}

func TestContextCancelStops(t *testing.T) {
	var ep, err = New(testConfig(t))
	require.NoError(t, err)
	var ctx, cancel = context.WithCancel(context.Background())
	var errc = make(chan error, 1)
	go func() { errc <- ep.Start(ctx) }()
	require.Eventually(t, func() bool { return ep.running.Load() }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not stop")
	}
	assert.NoError(t, ep.Close())
}

func TestCloseLeavesWorkersParked(t *testing.T) {
	var ep, err = New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, ep.Close())

	assert.NotPanics(t, func() { ep.threadPool.Invoke(struct{}{}) })
	require.Eventually(t, func() bool { return len(ep.threadPool.Args) == 0 }, 2*time.Second, 10*time.Millisecond)
}
