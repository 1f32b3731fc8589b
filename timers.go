package epoll

import (
	"github.com/gotcp/httpd/timer"
)

func (ep *EP) timerCallback(data *timer.ClientData) {
	if c, ok := data.Data.(*Conn); ok {
		ep.teardown(c)
	}
}

// addTimer schedules the idle expiry of a new connection. The alarm is
// re-armed when the new timer becomes the earliest deadline.
func (ep *EP) addTimer(c *Conn) {
	var t = timer.NewHeapTimer(ep.Now().Add(ep.Config.IdleTimeout), ep.timerCallback, c.Timer)
	ep.heapLock.Lock()
	ep.heap.Add(t)
	var first = ep.heap.Top() == t
	ep.heapLock.Unlock()
	if first {
		ep.rearmAlarm()
	}
}

// touch renews the idle timer of an active connection. Renewal stops once
// the expiry is already a full idle timeout away.
func (ep *EP) touch(c *Conn) {
	ep.heapLock.Lock()
	defer ep.heapLock.Unlock()
	var t = ep.heap.At(c.Timer.Slot)
	if t == nil || t.Data != c.Timer {
		return
	}
	if t.Expire.Sub(ep.Now()) < ep.Config.IdleTimeout {
		ep.heap.Adjust(c.Timer.Slot)
	}
}

// sweep retires every expired connection and schedules the next alarm.
func (ep *EP) sweep() {
	ep.heapLock.Lock()
	var n = ep.heap.Sweep(ep.Now())
	ep.heapLock.Unlock()
	if n > 0 {
		ep.Metrics.Evicted.Add(float64(n))
		ep.Log.Debug("idle connections evicted", "count", n)
	}
	ep.rearmAlarm()
}

// rearmAlarm arms the alarm for the earliest deadline, or one timeslot
// ahead when no connection is open.
func (ep *EP) rearmAlarm() {
	ep.heapLock.Lock()
	var d, ok = ep.heap.NextDelay(ep.Now())
	ep.heapLock.Unlock()
	if !ok {
		d = ep.Config.Timeslot
	}
	if err := ep.Alarm.Schedule(d); err != nil {
		ep.triggerOnError(-1, ERROR_ALARM, err)
	}
}

func (ep *EP) drainTimers() {
	ep.heapLock.Lock()
	defer ep.heapLock.Unlock()
	for ep.heap.Len() > 0 {
		ep.heap.PopMin()
	}
}
