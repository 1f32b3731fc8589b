package httpconn

import (
	"golang.org/x/sys/unix"
)

// Read pulls available bytes from the socket into the read buffer. In
// edge-triggered mode it drains until EAGAIN or the buffer is full. It
// returns false when the peer has closed or the socket failed.
func (c *Conn) Read() bool {
	if c.readIdx >= len(c.readBuf) {
		return true
	}
	for {
		var n, err = unix.Read(c.fd, c.readBuf[c.readIdx:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return true
			}
			return false
		}
		if n == 0 {
			return false
		}
		c.readIdx += n
		if !c.cfg.EdgeTriggered || c.readIdx >= len(c.readBuf) {
			return true
		}
	}
}

// Process parses what has been read so far and, once a request is complete,
// resolves it and prepares the response.
func (c *Conn) Process() Next {
	var code = c.ParseRequest()
	if code == REQUEST_INCOMPLETE {
		return NEXT_READ
	}
	if code == REQUEST_COMPLETE {
		code = c.resolve()
	}
	if !c.buildResponse(code) {
		c.log.Warn("response not built", "addr", c.addr, "code", code.String())
		c.unmap()
		return NEXT_CLOSE
	}
	c.served++
	c.log.Debug("request",
		"addr", c.addr,
		"method", c.method.String(),
		"url", c.url,
		"status", c.status,
		"keepalive", c.keepAlive,
	)
	return NEXT_WRITE
}

// Write sends as much of the prepared response as the socket accepts. When
// the response is complete on a kept-alive connection the state is reset and
// any pipelined request already buffered is processed right away.
func (c *Conn) Write() Next {
	if c.bytesToSend == 0 {
		c.unmap()
		if c.keepAlive {
			c.reset()
			return NEXT_READ
		}
		return NEXT_CLOSE
	}
	for {
		var n, err = unix.Writev(c.fd, c.pending())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return NEXT_WRITE
			}
			c.unmap()
			return NEXT_CLOSE
		}
		c.bytesHaveSent += n
		c.bytesToSend -= n
		if c.bytesToSend > 0 {
			continue
		}
		c.unmap()
		if !c.keepAlive {
			return NEXT_CLOSE
		}
		c.reset()
		if c.PendingInput() {
			return c.Process()
		}
		return NEXT_READ
	}
}
