package epoll

import (
	"github.com/rs/xid"
)

type OnAcceptEvent func(id xid.ID, fd int, addr string)
type OnCloseEvent func(id xid.ID, fd int)
type OnErrorEvent func(fd int, code ErrorCode, err error)

func (ep *EP) triggerOnAccept(c *Conn) {
	if ep.OnAccept != nil {
		ep.OnAccept(c.Id, c.Fd, c.Addr)
	}
}

func (ep *EP) triggerOnClose(c *Conn) {
	if ep.OnClose != nil {
		ep.OnClose(c.Id, c.Fd)
	}
}

func (ep *EP) triggerOnError(fd int, code ErrorCode, err error) {
	ep.Log.Warn("epoll error", "fd", fd, "code", code.String(), "error", err)
	if ep.OnError != nil {
		ep.OnError(fd, code, err)
	}
}
