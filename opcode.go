package epoll

type OpCode int

const (
	OP_READ    OpCode = 1
	OP_WRITE   OpCode = 2
	OP_PROCESS OpCode = 3
)

func (op OpCode) String() string {
	switch op {
	case OP_READ:
		return "read"
	case OP_WRITE:
		return "write"
	case OP_PROCESS:
		return "process"
	}
	return "unknown"
}
