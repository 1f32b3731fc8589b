package httpconn

import (
	"fmt"
	"mime"
	"path/filepath"
)

var (
	ERROR_400_TITLE = "Bad Request"
	ERROR_400_FORM  = "Your request has bad syntax or is inherently impossible to satisfy.\n"
	ERROR_403_TITLE = "Forbidden"
	ERROR_403_FORM  = "You do not have permission to get file from this server.\n"
	ERROR_404_TITLE = "Not Found"
	ERROR_404_FORM  = "The requested file was not found on this server.\n"
	ERROR_500_TITLE = "Internal Error"
	ERROR_500_FORM  = "There was an unusual problem serving the requested file.\n"
	OK_200_TITLE    = "OK"
)

// buildResponse writes the status line and headers into the write buffer
// and sets up the iovecs. It returns false when the code has no response or
// the headers do not fit.
func (c *Conn) buildResponse(code HttpCode) bool {
	c.writeIdx = 0
	switch code {
	case RESOURCE_READY:
		var ctype = mime.TypeByExtension(filepath.Ext(c.realFile))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		if !c.addStatusLine(200, OK_200_TITLE) || !c.addHeaders(len(c.fileData), ctype) {
			return false
		}
		c.setIov(c.fileData)
		return true
	case REQUEST_MALFORMED:
		c.keepAlive = false
		return c.addError(400, ERROR_400_TITLE, ERROR_400_FORM)
	case RESOURCE_FORBIDDEN:
		return c.addError(403, ERROR_403_TITLE, ERROR_403_FORM)
	case RESOURCE_MISSING:
		return c.addError(404, ERROR_404_TITLE, ERROR_404_FORM)
	case INTERNAL_ERROR:
		c.keepAlive = false
		return c.addError(500, ERROR_500_TITLE, ERROR_500_FORM)
	}
	return false
}

func (c *Conn) addError(status int, title, form string) bool {
	c.unmap()
	if !c.addStatusLine(status, title) || !c.addHeaders(len(form), "text/plain; charset=utf-8") {
		return false
	}
	c.errBody = []byte(form)
	c.setIov(c.errBody)
	return true
}

func (c *Conn) setIov(body []byte) {
	c.iov[0] = c.writeBuf[:c.writeIdx]
	c.iov[1] = body
	c.bytesToSend = c.writeIdx + len(body)
	c.bytesHaveSent = 0
}

func (c *Conn) addResponse(format string, args ...interface{}) bool {
	var s = fmt.Sprintf(format, args...)
	if c.writeIdx+len(s) > len(c.writeBuf) {
		return false
	}
	c.writeIdx += copy(c.writeBuf[c.writeIdx:], s)
	return true
}

func (c *Conn) addStatusLine(status int, title string) bool {
	c.status = status
	return c.addResponse("%s %d %s\r\n", "HTTP/1.1", status, title)
}

func (c *Conn) addHeaders(contentLength int, contentType string) bool {
	var connection = "close"
	if c.keepAlive {
		connection = "keep-alive"
	}
	return c.addResponse("Content-Length: %d\r\n", contentLength) &&
		c.addResponse("Content-Type: %s\r\n", contentType) &&
		c.addResponse("Connection: %s\r\n", connection) &&
		c.addResponse("\r\n")
}

// pending returns the unsent suffix of the two-part response.
func (c *Conn) pending() [][]byte {
	var out = make([][]byte, 0, 2)
	var sent = c.bytesHaveSent
	for _, part := range c.iov {
		if sent >= len(part) {
			sent -= len(part)
			continue
		}
		out = append(out, part[sent:])
		sent = 0
	}
	return out
}
