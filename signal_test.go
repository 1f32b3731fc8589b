package epoll

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSignalBridgeWake(t *testing.T) {
	var b, err = newSignalBridge()
	require.NoError(t, err)
	defer b.close()

	assert.Empty(t, b.drain())
	b.wake(7)
	b.wake(0)
	assert.Equal(t, []byte{7, 0}, b.drain())
	assert.Empty(t, b.drain())
}

func TestSignalBridgeCoalescesWhenFull(t *testing.T) {
	var b, err = newSignalBridge()
	require.NoError(t, err)
	defer b.close()
	for i := 0; i < 200000; i++ {
		b.wake(byte(unix.SIGALRM))
	}
	var got = b.drain()
	assert.NotEmpty(t, got)
	assert.Less(t, len(got), 200000)
}

func waitForByte(t *testing.T, b *signalBridge, want byte) {
	t.Helper()
	var seen []byte
	require.Eventually(t, func() bool {
		seen = append(seen, b.drain()...)
		return bytes.IndexByte(seen, want) >= 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSignalBridgeForwardsSignals(t *testing.T) {
	var b, err = newSignalBridge(unix.SIGALRM)
	require.NoError(t, err)
	defer b.close()
	require.NoError(t, unix.Kill(unix.Getpid(), unix.SIGALRM))
	waitForByte(t, b, byte(unix.SIGALRM))
}

func TestItimerAlarm(t *testing.T) {
	var b, err = newSignalBridge(unix.SIGALRM)
	require.NoError(t, err)
	defer b.close()
	var alarm = itimerAlarm{}
	require.NoError(t, alarm.Schedule(0))
	waitForByte(t, b, byte(unix.SIGALRM))

	require.NoError(t, alarm.Schedule(time.Hour))
	require.NoError(t, alarm.Stop())
	var old, _ = unix.Getitimer(unix.ItimerReal)
	assert.Zero(t, old.Value.Sec)
	assert.Zero(t, old.Value.Usec)
}

func TestWakeAlarm(t *testing.T) {
	var b, err = newSignalBridge()
	require.NoError(t, err)
	defer b.close()
	var alarm = newWakeAlarm(b)
	require.NoError(t, alarm.Schedule(time.Hour))
	require.NoError(t, alarm.Schedule(0))
	waitForByte(t, b, byte(unix.SIGALRM))
	require.NoError(t, alarm.Stop())
}
