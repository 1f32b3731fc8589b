package epoll

import (
	"golang.org/x/sys/unix"
)

// SetNonblocking sets O_NONBLOCK on fd and returns the previous flags.
func SetNonblocking(fd int) (int, error) {
	var flags, err = unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return 0, err
	}
	if _, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return flags, err
	}
	return flags, nil
}

// AddFd registers fd for input and peer hang-up, then makes it non-blocking.
func AddFd(epfd int, fd int, oneShot bool, edgeTriggered bool) error {
	var events uint32 = unix.EPOLLIN | unix.EPOLLRDHUP
	if edgeTriggered {
		events |= unix.EPOLLET
	}
	if oneShot {
		events |= unix.EPOLLONESHOT
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)}); err != nil {
		return err
	}
	var _, err = SetNonblocking(fd)
	return err
}

// ModFd re-arms a one-shot descriptor for ev (EPOLLIN or EPOLLOUT).
func ModFd(epfd int, fd int, ev uint32, edgeTriggered bool) error {
	var events = ev | unix.EPOLLONESHOT | unix.EPOLLRDHUP
	if edgeTriggered {
		events |= unix.EPOLLET
	}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

func RemoveFd(epfd int, fd int) error {
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (ep *EP) putConn(c *Conn) {
	ep.Connections.Lock.Lock()
	ep.Connections.List.Put(c.Fd, c)
	ep.Connections.Lock.Unlock()
}

func (ep *EP) getConn(fd int) *Conn {
	var c *Conn
	ep.Connections.Lock.RLock()
	ep.Connections.List.UpdateWithFunc(fd, func(value interface{}) {
		c, _ = value.(*Conn)
	})
	ep.Connections.Lock.RUnlock()
	return c
}

// delConn removes the entry for fd only while it still belongs to c.
func (ep *EP) delConn(c *Conn) {
	ep.Connections.Lock.Lock()
	var owned bool
	ep.Connections.List.UpdateWithFunc(c.Fd, func(value interface{}) {
		var cur, _ = value.(*Conn)
		owned = cur == c
	})
	if owned {
		ep.Connections.List.Remove(c.Fd)
	}
	ep.Connections.Lock.Unlock()
}

// Len is the number of registered client connections.
func (ep *EP) Len() int {
	ep.Connections.Lock.RLock()
	defer ep.Connections.Lock.RUnlock()
	return ep.Connections.List.GetCount()
}

// Open is the number of connections accepted and not yet torn down.
func (ep *EP) Open() int64 {
	return ep.open.Load()
}

func (ep *EP) CloseAll() {
	var list []*Conn
	ep.Connections.Lock.RLock()
	ep.Connections.List.Iterate(func(key interface{}, value interface{}) {
		if c, ok := value.(*Conn); ok {
			list = append(list, c)
		}
	})
	ep.Connections.Lock.RUnlock()
	for _, c := range list {
		ep.CloseAction(c)
	}
}
