package gateway

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSnapshotter struct {
	saves atomic.Int32
	err   error
}

func (c *countingSnapshotter) SaveFile(string) error {
	c.saves.Add(1)
	return c.err
}

func TestCheckpointer_SavesPeriodicallyAndOnStop(t *testing.T) {
	snap := &countingSnapshotter{}
	c := newCheckpointer(snap, "state.cbor", 5*time.Millisecond, testLogger())
	c.start()

	require.Eventually(t, func() bool { return snap.saves.Load() >= 2 }, 2*time.Second, time.Millisecond)

	require.NoError(t, c.stop())
	after := snap.saves.Load()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, snap.saves.Load(), "no saves after stop")

	require.NoError(t, c.stop())
	assert.Equal(t, after, snap.saves.Load(), "second stop does not save again")
}

func TestCheckpointer_StopWithoutStart(t *testing.T) {
	snap := &countingSnapshotter{err: errors.New("disk full")}
	c := newCheckpointer(snap, "state.cbor", time.Hour, testLogger())

	err := c.stop()
	require.Error(t, err)
	assert.Equal(t, int32(1), snap.saves.Load())
	assert.Equal(t, err, c.stop())

	c.start()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), snap.saves.Load(), "start after stop is a no-op")
}
