package httpconn

type Method int

const (
	METHOD_UNKNOWN Method = 0
	METHOD_GET     Method = 1
	METHOD_POST    Method = 2
)

func (m Method) String() string {
	switch m {
	case METHOD_GET:
		return "GET"
	case METHOD_POST:
		return "POST"
	case METHOD_UNKNOWN:
		return "UNKNOWN"
	}
	return "UNKNOWN"
}

// CheckState is the main parser state.
type CheckState int

const (
	STATE_REQUEST_LINE CheckState = 0
	STATE_HEADER       CheckState = 1
	STATE_CONTENT      CheckState = 2
)

func (s CheckState) String() string {
	switch s {
	case STATE_REQUEST_LINE:
		return "request-line"
	case STATE_HEADER:
		return "header"
	case STATE_CONTENT:
		return "content"
	}
	return "invalid"
}

// LineStatus is the result of scanning for one CRLF-terminated line.
type LineStatus int

const (
	LINE_OK   LineStatus = 0
	LINE_BAD  LineStatus = 1
	LINE_OPEN LineStatus = 2
)

func (s LineStatus) String() string {
	switch s {
	case LINE_OK:
		return "ok"
	case LINE_BAD:
		return "bad"
	case LINE_OPEN:
		return "open"
	}
	return "invalid"
}

// HttpCode is the outcome of parsing and resolving a request.
type HttpCode int

const (
	REQUEST_INCOMPLETE HttpCode = 0
	REQUEST_COMPLETE   HttpCode = 1
	REQUEST_MALFORMED  HttpCode = 2
	RESOURCE_MISSING   HttpCode = 3
	RESOURCE_FORBIDDEN HttpCode = 4
	RESOURCE_READY     HttpCode = 5
	INTERNAL_ERROR     HttpCode = 6
	CONNECTION_CLOSED  HttpCode = 7
)

func (c HttpCode) String() string {
	switch c {
	case REQUEST_INCOMPLETE:
		return "incomplete"
	case REQUEST_COMPLETE:
		return "complete"
	case REQUEST_MALFORMED:
		return "malformed"
	case RESOURCE_MISSING:
		return "missing"
	case RESOURCE_FORBIDDEN:
		return "forbidden"
	case RESOURCE_READY:
		return "ready"
	case INTERNAL_ERROR:
		return "internal-error"
	case CONNECTION_CLOSED:
		return "closed"
	}
	return "invalid"
}

// Next tells the reactor what to wait for after a processing step.
type Next int

const (
	NEXT_READ  Next = 0
	NEXT_WRITE Next = 1
	NEXT_CLOSE Next = 2
)

func (n Next) String() string {
	switch n {
	case NEXT_READ:
		return "read"
	case NEXT_WRITE:
		return "write"
	case NEXT_CLOSE:
		return "close"
	}
	return "invalid"
}
