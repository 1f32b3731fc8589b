// Package httpconn is the per-connection HTTP/1.1 state machine: a
// zero-copy line scanner feeding a request-line/header/content parser,
// request resolution against a document root, and response assembly sent
// with a two-part writev of the header buffer and the mmapped file.
//
// A Conn is not safe for concurrent use. The reactor guarantees that at most
// one worker touches a connection at a time.
package httpconn

import (
	"os"
	"time"

	"github.com/gotcp/httpd/logpipe"
)

const (
	DEFAULT_READ_BUFFER_SIZE  = 2048
	DEFAULT_WRITE_BUFFER_SIZE = 1024
	DEFAULT_INDEX_FILE        = "index.html"
	DEFAULT_STORE_TIMEOUT     = 5 * time.Second

	LOGIN_TARGET    = "/login"
	REGISTER_TARGET = "/register"
)

// Pages are the documents served by the login and registration targets,
// relative to the document root.
type Pages struct {
	LoginOK        string
	LoginFailed    string
	RegisterOK     string
	RegisterFailed string
}

func DefaultPages() Pages {
	return Pages{
		LoginOK:        "welcome.html",
		LoginFailed:    "logError.html",
		RegisterOK:     "log.html",
		RegisterFailed: "registerError.html",
	}
}

// Config is shared by every connection and never modified after start.
type Config struct {
	DocRoot         string
	ReadBufferSize  int
	WriteBufferSize int
	EdgeTriggered   bool
	IndexFile       string
	Pages           Pages
	StoreTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DEFAULT_READ_BUFFER_SIZE
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = DEFAULT_WRITE_BUFFER_SIZE
	}
	if c.IndexFile == "" {
		c.IndexFile = DEFAULT_INDEX_FILE
	}
	var def = DefaultPages()
	if c.Pages.LoginOK == "" {
		c.Pages.LoginOK = def.LoginOK
	}
	if c.Pages.LoginFailed == "" {
		c.Pages.LoginFailed = def.LoginFailed
	}
	if c.Pages.RegisterOK == "" {
		c.Pages.RegisterOK = def.RegisterOK
	}
	if c.Pages.RegisterFailed == "" {
		c.Pages.RegisterFailed = def.RegisterFailed
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DEFAULT_STORE_TIMEOUT
	}
	return c
}

type Conn struct {
	// cfg is a per-Conn copy and must stay the first field: the object pool
	// keys pooled values by their first word.
	cfg   *Config
	users *Users
	log   *logpipe.Pipeline

	fd   int
	addr string

	// 0 <= startLine <= checkedIdx <= readIdx <= len(readBuf)
	readBuf    []byte
	readIdx    int
	checkedIdx int
	startLine  int

	writeBuf []byte
	writeIdx int

	state         CheckState
	method        Method
	url           string
	query         string
	version       string
	host          string
	contentLength int
	keepAlive     bool
	body          string

	realFile string
	fileData []byte
	fileInfo os.FileInfo
	errBody  []byte

	iov           [2][]byte
	bytesToSend   int
	bytesHaveSent int
	status        int
	served        uint64
}

// New allocates a connection with its fixed-size buffers. The same Conn is
// reused for many sockets through Init.
func New(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:      &cfg,
		fd:       -1,
		readBuf:  make([]byte, cfg.ReadBufferSize),
		writeBuf: make([]byte, cfg.WriteBufferSize),
	}
}

// Init binds the connection to a freshly accepted socket.
func (c *Conn) Init(fd int, addr string, users *Users, log *logpipe.Pipeline) {
	if log == nil {
		log = logpipe.Noop()
	}
	c.fd = fd
	c.addr = addr
	c.users = users
	c.log = log
	c.readIdx = 0
	c.served = 0
	c.reset()
}

// Close releases the file mapping and detaches the socket. It does not close
// the descriptor; the reactor owns that.
func (c *Conn) Close() {
	c.unmap()
	c.fd = -1
	c.readIdx = 0
	c.reset()
}

// reset prepares for the next request on a kept-alive connection. Bytes of a
// pipelined request already received are moved to the front of the buffer.
func (c *Conn) reset() {
	var leftover = 0
	if c.startLine < c.readIdx {
		leftover = copy(c.readBuf, c.readBuf[c.startLine:c.readIdx])
	}
	c.readIdx = leftover
	c.checkedIdx = 0
	c.startLine = 0
	c.writeIdx = 0
	c.state = STATE_REQUEST_LINE
	c.method = METHOD_UNKNOWN
	c.url = ""
	c.query = ""
	c.version = ""
	c.host = ""
	c.contentLength = 0
	c.keepAlive = false
	c.body = ""
	c.realFile = ""
	c.fileInfo = nil
	c.errBody = nil
	c.iov = [2][]byte{}
	c.bytesToSend = 0
	c.bytesHaveSent = 0
	c.status = 0
}

func (c *Conn) Fd() int               { return c.fd }
func (c *Conn) Addr() string          { return c.addr }
func (c *Conn) State() CheckState     { return c.state }
func (c *Conn) Method() Method        { return c.method }
func (c *Conn) URL() string           { return c.url }
func (c *Conn) Query() string         { return c.query }
func (c *Conn) Version() string       { return c.version }
func (c *Conn) Host() string          { return c.host }
func (c *Conn) ContentLength() int    { return c.contentLength }
func (c *Conn) KeepAlive() bool       { return c.keepAlive }
func (c *Conn) Body() string          { return c.body }
func (c *Conn) RealFile() string      { return c.realFile }
func (c *Conn) FileInfo() os.FileInfo { return c.fileInfo }
func (c *Conn) Status() int           { return c.status }

// Served counts responses prepared since Init.
func (c *Conn) Served() uint64 { return c.served }

func (c *Conn) EdgeTriggered() bool   { return c.cfg.EdgeTriggered }
func (c *Conn) PendingInput() bool    { return c.readIdx > 0 }
func (c *Conn) BufferedInput() []byte { return c.readBuf[:c.readIdx] }
func (c *Conn) BytesToSend() int      { return c.bytesToSend }
func (c *Conn) BytesHaveSent() int    { return c.bytesHaveSent }
