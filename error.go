package epoll

import (
	"errors"
)

var (
	ErrorGetPoolConn    = errors.New("get pool connection error")
	ErrorServerBusy     = errors.New("internal server busy")
	ErrorNotListening   = errors.New("listening socket not initialized")
	ErrorAlreadyRunning = errors.New("event loop already running")
	ErrorInvalidHost    = errors.New("host is not an IPv4 address")
)
