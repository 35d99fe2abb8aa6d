// SPDX-License-Identifier: GPL-2.0-or-later

package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLaneSlots(t *testing.T) {
	l := newLane(2)

	a := l.acquireSlot()
	b := l.acquireSlot()
	require.NotEqual(t, a, b)
	require.Empty(t, l.free)

	// A blocked acquire proceeds once a slot is returned.
	got := make(chan int)
	go func() { got <- l.acquireSlot() }()

	select {
	case <-got:
		t.Fatal("acquire should block while the pool is empty")
	case <-time.After(5 * time.Millisecond):
	}

	l.releaseSlot(a)
	require.Equal(t, a, <-got)
}

func TestLanePopOrder(t *testing.T) {
	l := newLane(4)
	l.push(task{slot: 0})
	l.push(task{slot: 1})

	first, ok := l.pop()
	require.True(t, ok)
	require.Equal(t, 0, first.slot)

	second, ok := l.pop()
	require.True(t, ok)
	require.Equal(t, 1, second.slot)

	require.Equal(t, int32(2), l.active.Load())
}

func TestLaneShutdownDiscardsQueue(t *testing.T) {
	l := newLane(4)
	l.push(task{slot: 0})
	l.shutdown()

	_, ok := l.pop()
	require.False(t, ok)
}

func TestLaneShutdownWakesWorker(t *testing.T) {
	l := newLane(1)
	done := make(chan struct{})
	go func() {
		_, ok := l.pop()
		require.False(t, ok)
		close(done)
	}()

	time.Sleep(time.Millisecond)
	l.shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not wake on shutdown")
	}
}
