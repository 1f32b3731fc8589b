package epoll

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/wuyongjia/hashmap"
	"github.com/wuyongjia/pool"
	"github.com/wuyongjia/threadpool"

	"github.com/gotcp/httpd/httpconn"
	"github.com/gotcp/httpd/logpipe"
	"github.com/gotcp/httpd/timer"
)

// Conn is the event loop's record of one client socket. Timer is the
// liveness token shared with the idle heap; its Data points back here.
type Conn struct {
	Id    xid.ID
	Fd    int
	Addr  string
	Http  *httpconn.Conn
	Timer *timer.ClientData
	Born  time.Time

	mu     sync.Mutex
	closed bool
	served uint64
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conns maps a client fd to its *Conn. Lock makes lookup-then-remove atomic
// so a stale record never removes the entry of a reused fd.
type Conns struct {
	List *hashmap.HM
	Lock *sync.RWMutex
}

type EP struct {
	Config      Config
	Epfd        int
	Fd          int
	Port        int
	Connections *Conns
	Users       *httpconn.Users
	Log         *logpipe.Pipeline
	Metrics     *Metrics
	Alarm       Alarm
	Now         func() time.Time

	heapLock    sync.Mutex
	heap        *timer.TimerHeap
	signals     *signalBridge
	connPool    *pool.Pool       // *httpconn.Conn
	requestPool *sync.Pool       // *request
	threadPool  *threadpool.Pool // connection work

	open      atomic.Int64
	timeout   bool
	stopping  atomic.Bool
	running   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	OnAccept OnAcceptEvent
	OnClose  OnCloseEvent
	OnError  OnErrorEvent
}
