package epoll

import (
	"github.com/wuyongjia/pool"

	"github.com/gotcp/httpd/httpconn"
)

func (ep *EP) newConnPool(capacity int) *pool.Pool {
	var cfg = ep.Config.httpConfig()
	return pool.New(capacity, func() interface{} {
		return httpconn.New(cfg)
	})
}

// getHttpConn takes a connection state machine from the pool. An exhausted
// pool is not fatal; a fresh one is allocated instead.
func (ep *EP) getHttpConn() (*httpconn.Conn, error) {
	var iface, err = ep.connPool.Get()
	if err != nil {
		return httpconn.New(ep.Config.httpConfig()), nil
	}
	var c, ok = iface.(*httpconn.Conn)
	if !ok {
		return nil, ErrorGetPoolConn
	}
	return c, nil
}

func (ep *EP) putHttpConn(c *httpconn.Conn) {
	ep.connPool.Put(c)
}
