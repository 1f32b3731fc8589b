package epoll

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func (ep *EP) listen() error {
	var events = make([]unix.EpollEvent, ep.Config.EpollEvents)
	for !ep.stopping.Load() {
		var n, err = unix.EpollWait(ep.Epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			ep.triggerOnError(-1, ERROR_EPOLL_WAIT, err)
			return fmt.Errorf("epoll wait: %w", err)
		}
		for i := 0; i < n; i++ {
			var fd = int(events[i].Fd)
			var ev = events[i].Events
			switch {
			case fd == ep.Fd:
				ep.acceptAction()
			case fd == ep.signals.fd():
				ep.signalAction()
			case ev&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
				if c := ep.getConn(fd); c != nil {
					ep.CloseAction(c)
				}
			case ev&unix.EPOLLIN != 0:
				ep.readAction(fd)
			case ev&unix.EPOLLOUT != 0:
				ep.writeAction(fd)
			}
		}
		if ep.timeout {
			ep.timeout = false
			ep.sweep()
		}
	}
	return nil
}

func (ep *EP) signalAction() {
	for _, b := range ep.signals.drain() {
		switch unix.Signal(b) {
		case unix.SIGALRM:
			ep.timeout = true
		case unix.SIGTERM:
			ep.Log.Info("termination signal received")
			ep.stopping.Store(true)
		}
	}
}
