package epoll

import (
	"github.com/wuyongjia/threadpool"
)

func (ep *EP) newThreadPool() *threadpool.Pool {
	var p = threadpool.NewWithFunc(ep.Config.Threads, ep.Config.QueueLength, func(payload interface{}) {
		var req, ok = payload.(*request)
		if ok {
			switch req.Op {
			case OP_READ:
				ep.readTask(req.Conn)
			case OP_WRITE:
				ep.writeTask(req.Conn)
			case OP_PROCESS:
				ep.processTask(req.Conn)
			}
			ep.putRequestItem(req)
		}
	})
	return p
}
