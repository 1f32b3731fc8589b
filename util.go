package epoll

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

var BUSY_MESSAGE = []byte("Internal server busy")

func Write(fd int, msg []byte) error {
	var _, err = unix.Write(fd, msg)
	return err
}

// sendBusy answers a connection refused for capacity and closes it.
func sendBusy(fd int) {
	Write(fd, BUSY_MESSAGE)
	unix.Close(fd)
}

// setLinger makes close wait up to one second for unsent data.
func setLinger(fd int) error {
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1})
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	}
	return ""
}
