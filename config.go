package epoll

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gotcp/httpd/httpconn"
)

const (
	DEFAULT_HOST            = "0.0.0.0"
	DEFAULT_PORT            = 9006
	DEFAULT_THREADS         = 8
	DEFAULT_QUEUE_LENGTH    = 10000
	DEFAULT_MAX_CONNECTIONS = 65536
	DEFAULT_EPOLL_EVENTS    = 10000
	DEFAULT_TIMESLOT        = 5 * time.Second
	DEFAULT_IDLE_TIMEOUT    = 3 * DEFAULT_TIMESLOT
	DEFAULT_RENEWAL         = 3 * DEFAULT_TIMESLOT
	DEFAULT_HEAP_CAPACITY   = 1024
)

var ErrInvalidConfig = errors.New("invalid config")

// ActorModel decides who performs socket I/O.
type ActorModel int

const (
	// ACTOR_REACTOR: workers read, parse and write.
	ACTOR_REACTOR ActorModel = 0
	// ACTOR_PROACTOR: the event loop reads and writes, workers only parse.
	ACTOR_PROACTOR ActorModel = 1
)

func (m ActorModel) String() string {
	switch m {
	case ACTOR_REACTOR:
		return "reactor"
	case ACTOR_PROACTOR:
		return "proactor"
	}
	return "invalid"
}

func ParseActorModel(s string) (ActorModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reactor", "":
		return ACTOR_REACTOR, nil
	case "proactor":
		return ACTOR_PROACTOR, nil
	}
	return ACTOR_REACTOR, fmt.Errorf("%w: unknown actor model %q", ErrInvalidConfig, s)
}

type Config struct {
	Host    string
	Port    int
	DocRoot string

	ReadBuffer  int
	WriteBuffer int

	// ListenET and ConnET select edge-triggered mode for the listening
	// socket and for client sockets independently.
	ListenET bool
	ConnET   bool

	// IdleTimeout is the initial expiry of a new connection, Renewal the
	// increment applied on activity and Timeslot the alarm period used
	// while no connection is open.
	IdleTimeout time.Duration
	Renewal     time.Duration
	Timeslot    time.Duration

	Threads        int
	QueueLength    int
	MaxConnections int
	EpollEvents    int
	HeapCapacity   int

	Linger    bool
	ReuseAddr bool
	Actor     ActorModel

	// WakeAlarm drives the idle sweep with a Go timer writing to the signal
	// pipe instead of SIGALRM.
	WakeAlarm bool

	IndexFile    string
	Pages        httpconn.Pages
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:           DEFAULT_HOST,
		Port:           DEFAULT_PORT,
		ReadBuffer:     httpconn.DEFAULT_READ_BUFFER_SIZE,
		WriteBuffer:    httpconn.DEFAULT_WRITE_BUFFER_SIZE,
		IdleTimeout:    DEFAULT_IDLE_TIMEOUT,
		Renewal:        DEFAULT_RENEWAL,
		Timeslot:       DEFAULT_TIMESLOT,
		Threads:        DEFAULT_THREADS,
		QueueLength:    DEFAULT_QUEUE_LENGTH,
		MaxConnections: DEFAULT_MAX_CONNECTIONS,
		EpollEvents:    DEFAULT_EPOLL_EVENTS,
		HeapCapacity:   DEFAULT_HEAP_CAPACITY,
		ReuseAddr:      true,
		Actor:          ACTOR_REACTOR,
		IndexFile:      httpconn.DEFAULT_INDEX_FILE,
		Pages:          httpconn.DefaultPages(),
		StoreTimeout:   httpconn.DEFAULT_STORE_TIMEOUT,
	}
}

func (c Config) Validate() error {
	var problems []string
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.DocRoot == "" {
		problems = append(problems, "document root is required")
	} else if info, err := os.Stat(c.DocRoot); err != nil {
		problems = append(problems, fmt.Sprintf("document root: %v", err))
	} else if !info.IsDir() {
		problems = append(problems, fmt.Sprintf("document root %s is not a directory", c.DocRoot))
	}
	if c.ReadBuffer <= 0 || c.WriteBuffer <= 0 {
		problems = append(problems, "buffer sizes must be positive")
	}
	if c.IdleTimeout <= 0 || c.Renewal <= 0 || c.Timeslot <= 0 {
		problems = append(problems, "idle timeout, renewal and timeslot must be positive")
	}
	if c.Threads <= 0 || c.QueueLength <= 0 {
		problems = append(problems, "threads and queue length must be positive")
	} else if c.QueueLength < c.Threads {
		problems = append(problems, fmt.Sprintf("queue length %d is shorter than threads %d", c.QueueLength, c.Threads))
	}
	if c.MaxConnections <= 0 || c.EpollEvents <= 0 {
		problems = append(problems, "max connections and epoll events must be positive")
	}
	if c.Actor != ACTOR_REACTOR && c.Actor != ACTOR_PROACTOR {
		problems = append(problems, fmt.Sprintf("unknown actor model %d", c.Actor))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) httpConfig() httpconn.Config {
	return httpconn.Config{
		DocRoot:         c.DocRoot,
		ReadBufferSize:  c.ReadBuffer,
		WriteBufferSize: c.WriteBuffer,
		EdgeTriggered:   c.ConnET,
		IndexFile:       c.IndexFile,
		Pages:           c.Pages,
		StoreTimeout:    c.StoreTimeout,
	}
}
