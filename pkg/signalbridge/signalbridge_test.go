package signalbridge

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleSignalRunsAllCallbacksOnce(t *testing.T) {
	b := newBridge()
	var exitCode atomic.Int32
	exitCalls := atomic.Int32{}
	b.exit = func(code int) { exitCode.Store(int32(code)); exitCalls.Add(1) }

	var ran1, ran2 atomic.Bool
	b.Register("a", func() { ran1.Store(true) })
	b.Register("b", func() { ran2.Store(true) })

	b.handleSignal()
	require.True(t, ran1.Load())
	require.True(t, ran2.Load())
	require.EqualValues(t, 1, exitCalls.Load())

	b.handleSignal()
	require.EqualValues(t, 1, exitCalls.Load(), "second signal must be a no-op")
}

func TestHandleSignalRecoversPanickingCallback(t *testing.T) {
	b := newBridge()
	b.exit = func(code int) {}

	var ranAfterPanic atomic.Bool
	b.Register("panics", func() { panic("boom") })
	b.Register("after", func() { ranAfterPanic.Store(true) })

	require.NotPanics(t, func() { b.handleSignal() })
	require.True(t, ranAfterPanic.Load())
}

func TestUnregisterRemovesCallback(t *testing.T) {
	b := newBridge()
	b.exit = func(code int) {}

	var ran atomic.Bool
	b.Register("x", func() { ran.Store(true) })
	b.Unregister("x")

	b.handleSignal()
	require.False(t, ran.Load())
}

func TestGetReturnsSameInstance(t *testing.T) {
	require.Same(t, Get(), Get())
}
