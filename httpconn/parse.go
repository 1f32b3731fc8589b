package httpconn

import (
	"bytes"
	"strconv"
	"strings"
)

// feed appends p to the read buffer and returns how many bytes fit.
func (c *Conn) feed(p []byte) int {
	var n = copy(c.readBuf[c.readIdx:], p)
	c.readIdx += n
	return n
}

// parseLine scans [checkedIdx, readIdx) for a CRLF. On LINE_OK the line is
// readBuf[startLine:checkedIdx-2]; the buffer itself is never modified.
func (c *Conn) parseLine() LineStatus {
	for ; c.checkedIdx < c.readIdx; c.checkedIdx++ {
		switch c.readBuf[c.checkedIdx] {
		case '\r':
			if c.checkedIdx+1 == c.readIdx {
				return LINE_OPEN
			}
			if c.readBuf[c.checkedIdx+1] == '\n' {
				c.checkedIdx += 2
				return LINE_OK
			}
			return LINE_BAD
		case '\n':
			if c.checkedIdx > c.startLine && c.readBuf[c.checkedIdx-1] == '\r' {
				c.checkedIdx++
				return LINE_OK
			}
			return LINE_BAD
		}
	}
	return LINE_OPEN
}

// ParseRequest drives the main state machine over everything received so
// far. It can be called again after more bytes arrive; the outcome does not
// depend on how the input was split.
func (c *Conn) ParseRequest() HttpCode {
	for {
		if c.state == STATE_CONTENT {
			return c.parseContent()
		}
		switch c.parseLine() {
		case LINE_OPEN:
			if c.readIdx >= len(c.readBuf) {
				return REQUEST_MALFORMED
			}
			return REQUEST_INCOMPLETE
		case LINE_BAD:
			return REQUEST_MALFORMED
		case LINE_OK:
		}
		var line = c.readBuf[c.startLine : c.checkedIdx-2]
		c.startLine = c.checkedIdx

		var code HttpCode
		switch c.state {
		case STATE_REQUEST_LINE:
			code = c.parseRequestLine(line)
		case STATE_HEADER:
			code = c.parseHeader(line)
		case STATE_CONTENT:
			code = INTERNAL_ERROR
		}
		if code != REQUEST_INCOMPLETE {
			return code
		}
	}
}

func (c *Conn) parseRequestLine(line []byte) HttpCode {
	var method, rest = splitToken(line)
	var target, version = splitToken(rest)
	if len(method) == 0 || len(target) == 0 || len(version) == 0 {
		return REQUEST_MALFORMED
	}
	if bytes.IndexAny(version, " \t") >= 0 {
		return REQUEST_MALFORMED
	}

	switch {
	case bytes.EqualFold(method, []byte("GET")):
		c.method = METHOD_GET
	case bytes.EqualFold(method, []byte("POST")):
		c.method = METHOD_POST
	default:
		return REQUEST_MALFORMED
	}

	if !bytes.EqualFold(version, []byte("HTTP/1.1")) && !bytes.EqualFold(version, []byte("HTTP/1.0")) {
		return REQUEST_MALFORMED
	}
	c.version = strings.ToUpper(string(version))

	var url = string(target)
	var lower = strings.ToLower(url)
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(lower, scheme) {
			url = url[len(scheme):]
			var i = strings.IndexByte(url, '/')
			if i < 0 {
				return REQUEST_MALFORMED
			}
			url = url[i:]
			break
		}
	}
	if !strings.HasPrefix(url, "/") {
		return REQUEST_MALFORMED
	}
	if i := strings.IndexByte(url, '?'); i >= 0 {
		c.query = url[i+1:]
		url = url[:i]
	}
	c.url = url
	c.state = STATE_HEADER
	return REQUEST_INCOMPLETE
}

func (c *Conn) parseHeader(line []byte) HttpCode {
	if len(line) == 0 {
		// a body on a non-POST request is consumed and ignored so it is not
		// taken for the next pipelined request
		if c.contentLength > 0 {
			c.state = STATE_CONTENT
			return REQUEST_INCOMPLETE
		}
		return REQUEST_COMPLETE
	}
	var colon = bytes.IndexByte(line, ':')
	if colon < 0 {
		return REQUEST_INCOMPLETE
	}
	var name = bytes.TrimSpace(line[:colon])
	var value = bytes.Trim(line[colon+1:], " \t")
	switch {
	case bytes.EqualFold(name, []byte("Connection")):
		for _, token := range bytes.Split(value, []byte(",")) {
			token = bytes.TrimSpace(token)
			if bytes.EqualFold(token, []byte("keep-alive")) {
				c.keepAlive = true
			} else if bytes.EqualFold(token, []byte("close")) {
				c.keepAlive = false
			}
		}
	case bytes.EqualFold(name, []byte("Content-Length")):
		var n, err = strconv.Atoi(string(value))
		if err != nil || n < 0 || n > len(c.readBuf) {
			return REQUEST_MALFORMED
		}
		c.contentLength = n
	case bytes.EqualFold(name, []byte("Host")):
		c.host = string(value)
	}
	return REQUEST_INCOMPLETE
}

func (c *Conn) parseContent() HttpCode {
	if c.readIdx-c.checkedIdx >= c.contentLength {
		c.body = string(c.readBuf[c.checkedIdx : c.checkedIdx+c.contentLength])
		c.checkedIdx += c.contentLength
		c.startLine = c.checkedIdx
		return REQUEST_COMPLETE
	}
	if c.contentLength > len(c.readBuf)-c.checkedIdx {
		return REQUEST_MALFORMED
	}
	return REQUEST_INCOMPLETE
}

// splitToken splits at the first run of spaces or tabs.
func splitToken(b []byte) ([]byte, []byte) {
	b = bytes.TrimLeft(b, " \t")
	var i = bytes.IndexAny(b, " \t")
	if i < 0 {
		return b, nil
	}
	return b[:i], bytes.TrimLeft(b[i:], " \t")
}
