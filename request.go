package epoll

import (
	"sync"
)

type request struct {
	Op   OpCode
	Conn *Conn
}

func (ep *EP) newRequestPool() *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			return &request{}
		},
	}
}

func (ep *EP) getRequestItem(op OpCode, c *Conn) *request {
	var item = ep.requestPool.Get().(*request)
	item.Op = op
	item.Conn = c
	return item
}

func (ep *EP) putRequestItem(item *request) {
	item.Conn = nil
	ep.requestPool.Put(item)
}

// invoke hands connection work to the worker pool.
func (ep *EP) invoke(op OpCode, c *Conn) {
	ep.threadPool.Invoke(ep.getRequestItem(op, c))
}
