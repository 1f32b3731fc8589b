package epoll

type ErrorCode int

const (
	ERROR_ACCEPT           ErrorCode = 1
	ERROR_ADD_CONNECTION   ErrorCode = 2
	ERROR_CLOSE_CONNECTION ErrorCode = 3
	ERROR_READ             ErrorCode = 4
	ERROR_EPOLL_WAIT       ErrorCode = 5
	ERROR_STOP             ErrorCode = 6
	ERROR_POOL_CONN        ErrorCode = 7
	ERROR_MOD_FD           ErrorCode = 8
	ERROR_ALARM            ErrorCode = 9
	ERROR_SERVER_BUSY      ErrorCode = 10
)

func (c ErrorCode) String() string {
	switch c {
	case ERROR_ACCEPT:
		return "accept"
	case ERROR_ADD_CONNECTION:
		return "add-connection"
	case ERROR_CLOSE_CONNECTION:
		return "close-connection"
	case ERROR_READ:
		return "read"
	case ERROR_EPOLL_WAIT:
		return "epoll-wait"
	case ERROR_STOP:
		return "stop"
	case ERROR_POOL_CONN:
		return "pool-conn"
	case ERROR_MOD_FD:
		return "mod-fd"
	case ERROR_ALARM:
		return "alarm"
	case ERROR_SERVER_BUSY:
		return "server-busy"
	}
	return "unknown"
}
