package epoll

import (
	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/gotcp/httpd/timer"
)

// acceptAction accepts one connection per readiness event in level-triggered
// mode and drains the backlog in edge-triggered mode.
func (ep *EP) acceptAction() {
	for {
		var fd, sa, err = unix.Accept4(ep.Fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			if err != unix.EAGAIN {
				ep.triggerOnError(-1, ERROR_ACCEPT, err)
			}
			return
		}
		ep.addConnection(fd, sockaddrString(sa))
		if !ep.Config.ListenET {
			return
		}
	}
}

func (ep *EP) addConnection(fd int, addr string) {
	if ep.open.Load() >= int64(ep.Config.MaxConnections) {
		ep.Metrics.Rejected.Inc()
		sendBusy(fd)
		ep.triggerOnError(fd, ERROR_SERVER_BUSY, ErrorServerBusy)
		return
	}
	var hc, err = ep.getHttpConn()
	if err != nil {
		unix.Close(fd)
		ep.triggerOnError(fd, ERROR_POOL_CONN, err)
		return
	}
	if ep.Config.Linger {
		if err = setLinger(fd); err != nil {
			ep.triggerOnError(fd, ERROR_ADD_CONNECTION, err)
		}
	}

	var c = &Conn{
		Id:   xid.New(),
		Fd:   fd,
		Addr: addr,
		Http: hc,
		Born: ep.Now(),
	}
	c.Timer = &timer.ClientData{Addr: addr, Fd: fd, Data: c}
	hc.Init(fd, addr, ep.Users, ep.Log.With("conn", c.Id.String()))

	ep.putConn(c)
	var open = ep.open.Add(1)
	ep.Metrics.OpenConnections.Set(float64(open))
	ep.addTimer(c)
	if err = AddFd(ep.Epfd, fd, true, ep.Config.ConnET); err != nil {
		ep.triggerOnError(fd, ERROR_ADD_CONNECTION, err)
		ep.CloseAction(c)
		return
	}
	ep.Metrics.Accepted.Inc()
	ep.Log.Debug("connection accepted", "id", c.Id.String(), "fd", fd, "addr", addr)
	ep.triggerOnAccept(c)
}
