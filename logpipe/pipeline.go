// Package logpipe is the server's asynchronous logging pipeline. Callers hand
// leveled records to Write and return immediately; a single goroutine drains
// the queue into a pslog logger. With a zero queue size records are emitted
// synchronously, and a disabled pipeline drops everything.
package logpipe

import (
	"strings"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	"github.com/gotcp/httpd/blockqueue"
)

type Level int

const (
	LEVEL_DEBUG Level = 0
	LEVEL_INFO  Level = 1
	LEVEL_WARN  Level = 2
	LEVEL_ERROR Level = 3
)

const SubsystemKey = pslog.TrustedString("sys")

func (l Level) String() string {
	switch l {
	case LEVEL_DEBUG:
		return "debug"
	case LEVEL_INFO:
		return "info"
	case LEVEL_WARN:
		return "warn"
	case LEVEL_ERROR:
		return "error"
	}
	return "info"
}

type Options struct {
	QueueSize int
	Disabled  bool
}

type entry struct {
	logger  pslog.Logger
	level   Level
	msg     string
	keyvals []any
}

type core struct {
	queue    *blockqueue.BlockQueue[entry]
	disabled bool
	done     chan struct{}
	once     sync.Once
	sync     atomic.Int64
}

type Pipeline struct {
	core   *core
	logger pslog.Logger
}

func New(logger pslog.Logger, opts Options) (*Pipeline, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	var c = &core{disabled: opts.Disabled, done: make(chan struct{})}
	if opts.QueueSize > 0 && !opts.Disabled {
		var q, err = blockqueue.New[entry](opts.QueueSize)
		if err != nil {
			return nil, err
		}
		c.queue = q
		go c.drain()
	} else {
		close(c.done)
	}
	return &Pipeline{core: c, logger: logger}, nil
}

// Noop returns a disabled pipeline.
func Noop() *Pipeline {
	var p, _ = New(pslog.NoopLogger(), Options{Disabled: true})
	return p
}

func (p *Pipeline) With(keyvals ...any) *Pipeline {
	return &Pipeline{core: p.core, logger: p.logger.With(keyvals...)}
}

// Subsystem tags every record with a dot-delimited subsystem name.
func (p *Pipeline) Subsystem(name string) *Pipeline {
	name = strings.Trim(name, ". ")
	if name == "" {
		return p
	}
	return p.With(SubsystemKey, name)
}

func (p *Pipeline) Enabled() bool {
	return !p.core.disabled
}

// Write queues a record. When the queue is full the record is written
// synchronously instead of blocking the caller on the consumer.
func (p *Pipeline) Write(level Level, msg string, keyvals ...any) {
	if p == nil || p.core.disabled {
		return
	}
	var e = entry{logger: p.logger, level: level, msg: msg, keyvals: keyvals}
	if p.core.queue == nil || !p.core.queue.TryPush(e) {
		p.core.sync.Add(1)
		emit(e)
	}
}

func (p *Pipeline) Debug(msg string, keyvals ...any) { p.Write(LEVEL_DEBUG, msg, keyvals...) }
func (p *Pipeline) Info(msg string, keyvals ...any)  { p.Write(LEVEL_INFO, msg, keyvals...) }
func (p *Pipeline) Warn(msg string, keyvals ...any)  { p.Write(LEVEL_WARN, msg, keyvals...) }
func (p *Pipeline) Error(msg string, keyvals ...any) { p.Write(LEVEL_ERROR, msg, keyvals...) }

// Synchronous reports how many records bypassed the queue.
func (p *Pipeline) Synchronous() int64 {
	return p.core.sync.Load()
}

// Close flushes queued records and stops the drain goroutine.
func (p *Pipeline) Close() {
	p.core.once.Do(func() {
		if p.core.queue != nil {
			p.core.queue.Close()
		}
	})
	<-p.core.done
}

func (c *core) drain() {
	defer close(c.done)
	for {
		var e, ok = c.queue.Pop()
		if !ok {
			return
		}
		emit(e)
	}
}

func emit(e entry) {
	switch e.level {
	case LEVEL_DEBUG:
		e.logger.Debug(e.msg, e.keyvals...)
	case LEVEL_INFO:
		e.logger.Info(e.msg, e.keyvals...)
	case LEVEL_WARN:
		e.logger.Warn(e.msg, e.keyvals...)
	case LEVEL_ERROR:
		e.logger.Error(e.msg, e.keyvals...)
	default:
		e.logger.Info(e.msg, e.keyvals...)
	}
}
