package epoll

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// signalBridge turns asynchronous signal delivery into readable bytes on a
// pipe registered with the event loop. Each byte is a signal number; 0 is a
// plain wakeup. A full pipe drops the byte, which coalesces repeated signals.
type signalBridge struct {
	r    int
	w    int
	ch   chan os.Signal
	done chan struct{}
}

func newSignalBridge(sigs ...os.Signal) (*signalBridge, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	var b = &signalBridge{
		r:    fds[0],
		w:    fds[1],
		ch:   make(chan os.Signal, 16),
		done: make(chan struct{}),
	}
	if len(sigs) > 0 {
		signal.Notify(b.ch, sigs...)
	}
	go b.forward()
	return b, nil
}

func (b *signalBridge) forward() {
	for {
		select {
		case s := <-b.ch:
			if sig, ok := s.(unix.Signal); ok {
				b.wake(byte(sig))
			}
		case <-b.done:
			return
		}
	}
}

func (b *signalBridge) fd() int {
	return b.r
}

func (b *signalBridge) wake(v byte) {
	var buf = [1]byte{v}
	for {
		var _, err = unix.Write(b.w, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

// drain reads every pending byte.
func (b *signalBridge) drain() []byte {
	var out []byte
	var buf [64]byte
	for {
		var n, err = unix.Read(b.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

func (b *signalBridge) close() {
	signal.Stop(b.ch)
	close(b.done)
	unix.Close(b.r)
	unix.Close(b.w)
}
