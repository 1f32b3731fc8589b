// Package epoll is the event loop of the HTTP server: a listening socket and
// one-shot client sockets on an epoll instance, a self-pipe that carries
// SIGALRM and SIGTERM into the loop, an indexed timer heap that evicts idle
// connections, and a worker pool that runs the per-connection state machine.
package epoll

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/wuyongjia/hashmap"
	"golang.org/x/sys/unix"

	"github.com/gotcp/httpd/httpconn"
	"github.com/gotcp/httpd/logpipe"
	"github.com/gotcp/httpd/timer"
)

func New(cfg Config) (*EP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	signals, err := newSignalBridge(unix.SIGALRM, unix.SIGTERM)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("signal pipe: %w", err)
	}
	var ep = &EP{
		Config: cfg,
		Epfd:   epfd,
		Fd:     -1,
		Port:   cfg.Port,
		Connections: &Conns{
			List: hashmap.New(cfg.MaxConnections),
			Lock: &sync.RWMutex{},
		},
		Log:     logpipe.Noop(),
		Metrics: NewMetrics(nil),
		Now:     time.Now,
		heap:    timer.NewTimerHeap(cfg.HeapCapacity, cfg.Renewal),
		signals: signals,
		done:    make(chan struct{}),
	}
	if cfg.WakeAlarm {
		ep.Alarm = newWakeAlarm(signals)
	} else {
		ep.Alarm = itimerAlarm{}
	}
	ep.connPool = ep.newConnPool(20 * cfg.Threads)
	ep.requestPool = ep.newRequestPool()
	ep.threadPool = ep.newThreadPool()
	return ep, nil
}

func (ep *EP) SetUsers(users *httpconn.Users) {
	ep.Users = users
}

func (ep *EP) SetLogger(log *logpipe.Pipeline) {
	if log == nil {
		log = logpipe.Noop()
	}
	ep.Log = log
}

func (ep *EP) SetMetrics(m *Metrics) {
	if m == nil {
		m = NewMetrics(nil)
	}
	ep.Metrics = m
}

func (ep *EP) SetAlarm(a Alarm) {
	ep.Alarm = a
}

func (ep *EP) SetClock(now func() time.Time) {
	ep.Now = now
}

// Addr is the bound listening address.
func (ep *EP) Addr() string {
	return net.JoinHostPort(ep.Config.Host, strconv.Itoa(ep.Port))
}

// InitEpoll creates, binds and registers the listening socket and the signal
// pipe. With Port 0 the kernel picks a port, recorded in ep.Port.
func (ep *EP) InitEpoll() error {
	var host = ep.Config.Host
	if host == "" {
		host = DEFAULT_HOST
	}
	var ip = net.ParseIP(host).To4()
	if ip == nil {
		return fmt.Errorf("%w: %q", ErrorInvalidHost, host)
	}

	var fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if ep.Config.ReuseAddr {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
	}
	if ep.Config.Linger {
		if err = setLinger(fd); err != nil {
			unix.Close(fd)
			return fmt.Errorf("setsockopt SO_LINGER: %w", err)
		}
	}

	var addr = unix.SockaddrInet4{Port: ep.Config.Port}
	copy(addr.Addr[:], ip)
	if err = unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s: %w", ep.Addr(), err)
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}
	if sa, err := unix.Getsockname(fd); err == nil {
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			ep.Port = in4.Port
		}
	}
	if err = AddFd(ep.Epfd, fd, false, ep.Config.ListenET); err != nil {
		unix.Close(fd)
		return fmt.Errorf("register listening socket: %w", err)
	}
	if err = AddFd(ep.Epfd, ep.signals.fd(), false, false); err != nil {
		RemoveFd(ep.Epfd, fd)
		unix.Close(fd)
		return fmt.Errorf("register signal pipe: %w", err)
	}
	ep.Fd = fd
	return nil
}

// Start initializes the listening socket and runs the event loop.
func (ep *EP) Start(ctx context.Context) error {
	if err := ep.InitEpoll(); err != nil {
		return err
	}
	return ep.Serve(ctx)
}

// Serve runs the event loop until ctx is done, Stop is called or SIGTERM
// arrives. Every open connection is torn down before it returns.
func (ep *EP) Serve(ctx context.Context) error {
	if ep.Fd < 0 {
		return ErrorNotListening
	}
	if !ep.running.CompareAndSwap(false, true) {
		return ErrorAlreadyRunning
	}
	defer close(ep.done)
	defer ep.closeOnce.Do(ep.shutdown)

	var stop = context.AfterFunc(ctx, ep.Stop)
	defer stop()

	ep.Log.Info("listening",
		"addr", ep.Addr(),
		"actor", ep.Config.Actor.String(),
		"listen_et", ep.Config.ListenET,
		"conn_et", ep.Config.ConnET,
		"threads", ep.Config.Threads,
	)
	ep.rearmAlarm()
	return ep.listen()
}

// Stop asks the event loop to exit. It is safe to call from any goroutine
// and more than once.
func (ep *EP) Stop() {
	if ep.stopping.CompareAndSwap(false, true) {
		ep.signals.wake(0)
	}
}

// Close stops the loop and releases every resource. When Serve is running
// it waits for Serve to return.
func (ep *EP) Close() error {
	ep.Stop()
	if ep.running.Load() {
		<-ep.done
		return nil
	}
	ep.closeOnce.Do(ep.shutdown)
	return nil
}

// Done is closed once Serve has returned.
func (ep *EP) Done() <-chan struct{} {
	return ep.done
}

func (ep *EP) shutdown() {
	if err := ep.Alarm.Stop(); err != nil {
		ep.triggerOnError(-1, ERROR_STOP, err)
	}
	ep.drainTimers()
	ep.CloseAll()
	if ep.Fd >= 0 {
		RemoveFd(ep.Epfd, ep.Fd)
		unix.Close(ep.Fd)
		ep.Fd = -1
	}
	ep.signals.close()
	// The worker pool is left open: its workers never exit and spin on a
	// closed queue, while on an open one they stay parked on receive.
	unix.Close(ep.Epfd)
	ep.Log.Info("stopped", "addr", ep.Addr())
}
