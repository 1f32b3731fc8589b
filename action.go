package epoll

import (
	"golang.org/x/sys/unix"

	"github.com/gotcp/httpd/httpconn"
)

func (ep *EP) readAction(fd int) {
	var c = ep.getConn(fd)
	if c == nil {
		return
	}
	ep.touch(c)
	if ep.Config.Actor == ACTOR_REACTOR {
		ep.invoke(OP_READ, c)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var ok = c.Http.Read()
	c.mu.Unlock()
	if !ok {
		ep.CloseAction(c)
		return
	}
	ep.invoke(OP_PROCESS, c)
}

func (ep *EP) writeAction(fd int) {
	var c = ep.getConn(fd)
	if c == nil {
		return
	}
	ep.touch(c)
	if ep.Config.Actor == ACTOR_REACTOR {
		ep.invoke(OP_WRITE, c)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ep.finish(c, c.Http.Write())
}

func (ep *EP) readTask(c *Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.Http.Read() {
		c.mu.Unlock()
		ep.CloseAction(c)
		return
	}
	ep.finish(c, c.Http.Process())
}

func (ep *EP) processTask(c *Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ep.finish(c, c.Http.Process())
}

func (ep *EP) writeTask(c *Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ep.finish(c, c.Http.Write())
}

// finish applies the outcome of one step. c.mu must be held and is released
// before any close, which takes the heap lock.
func (ep *EP) finish(c *Conn, next httpconn.Next) {
	for served := c.Http.Served(); c.served < served; c.served++ {
		ep.Metrics.response(c.Http.Status())
	}
	var err error
	switch next {
	case httpconn.NEXT_READ:
		err = ModFd(ep.Epfd, c.Fd, unix.EPOLLIN, ep.Config.ConnET)
	case httpconn.NEXT_WRITE:
		err = ModFd(ep.Epfd, c.Fd, unix.EPOLLOUT, ep.Config.ConnET)
	}
	c.mu.Unlock()
	if err != nil {
		ep.triggerOnError(c.Fd, ERROR_MOD_FD, err)
	}
	if next == httpconn.NEXT_CLOSE || err != nil {
		ep.CloseAction(c)
	}
}

// CloseAction closes c through its timer so the heap entry and the socket
// go away together. Connections without a timer are torn down directly.
func (ep *EP) CloseAction(c *Conn) {
	ep.heapLock.Lock()
	var slot = c.Timer.Slot
	if slot > 0 {
		ep.heap.Delete(slot)
	}
	ep.heapLock.Unlock()
	if slot <= 0 {
		ep.teardown(c)
	}
}

// teardown releases everything held by c. It runs at most once.
func (ep *EP) teardown(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	ep.delConn(c)
	if err := RemoveFd(ep.Epfd, c.Fd); err != nil && err != unix.ENOENT && err != unix.EBADF {
		ep.triggerOnError(c.Fd, ERROR_CLOSE_CONNECTION, err)
	}
	if err := unix.Close(c.Fd); err != nil {
		ep.triggerOnError(c.Fd, ERROR_CLOSE_CONNECTION, err)
	}
	c.Http.Close()
	ep.putHttpConn(c.Http)
	var open = ep.open.Add(-1)
	ep.Metrics.OpenConnections.Set(float64(open))
	ep.Log.Debug("connection closed", "id", c.Id.String(), "fd", c.Fd, "addr", c.Addr)
	ep.triggerOnClose(c)
}
