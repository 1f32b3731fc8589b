package epoll

import (
	"time"

	"golang.org/x/sys/unix"
)

// MIN_ALARM_INTERVAL replaces a zero delay; a zero itimer value disarms.
const MIN_ALARM_INTERVAL = time.Millisecond

// Alarm delivers one wakeup to the event loop after a delay.
type Alarm interface {
	Schedule(d time.Duration) error
	Stop() error
}

// itimerAlarm arms a one-shot SIGALRM through setitimer(ITIMER_REAL). The
// timer is process wide, so only one server per process should use it.
type itimerAlarm struct{}

func (itimerAlarm) Schedule(d time.Duration) error {
	if d < MIN_ALARM_INTERVAL {
		d = MIN_ALARM_INTERVAL
	}
	var _, err = unix.Setitimer(unix.ItimerReal, unix.Itimerval{Value: unix.NsecToTimeval(d.Nanoseconds())})
	return err
}

func (itimerAlarm) Stop() error {
	var _, err = unix.Setitimer(unix.ItimerReal, unix.Itimerval{})
	return err
}

// wakeAlarm delivers the alarm through the signal pipe directly with a Go
// timer. Several servers can share a process with it.
type wakeAlarm struct {
	bridge *signalBridge
	timer  *time.Timer
}

func newWakeAlarm(bridge *signalBridge) *wakeAlarm {
	return &wakeAlarm{bridge: bridge}
}

func (a *wakeAlarm) Schedule(d time.Duration) error {
	if d < MIN_ALARM_INTERVAL {
		d = MIN_ALARM_INTERVAL
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, func() { a.bridge.wake(byte(unix.SIGALRM)) })
	return nil
}

func (a *wakeAlarm) Stop() error {
	if a.timer != nil {
		a.timer.Stop()
	}
	return nil
}
