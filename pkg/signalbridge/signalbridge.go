// Package signalbridge implements SPEC_FULL.md §4.6: the process-wide
// SIGINT/SIGTERM handler that every Operation registers a best-effort
// cleanup callback with.
package signalbridge

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tomledger/dpl/pkg/log"
)

// CleanupFunc is one registrant's best-effort teardown. Panics are
// recovered and logged; the bridge always finishes the sweep.
type CleanupFunc func()

// Bridge is the process-wide singleton; use Get to access it.
type Bridge struct {
	mu        sync.Mutex
	callbacks map[string]CleanupFunc
	signalled bool
	installed bool
	sigCh     chan os.Signal

	// exit is os.Exit in production; tests override it to observe the
	// call instead of killing the test binary.
	exit func(code int)
}

var (
	instance     *Bridge
	instanceOnce sync.Once
)

// Get returns the process-wide Bridge, installing its signal handler on
// first call.
func Get() *Bridge {
	instanceOnce.Do(func() {
		instance = newBridge()
		instance.install()
	})
	return instance
}

func newBridge() *Bridge {
	return &Bridge{callbacks: make(map[string]CleanupFunc), exit: os.Exit}
}

func (b *Bridge) install() {
	b.mu.Lock()
	if b.installed {
		b.mu.Unlock()
		return
	}
	b.installed = true
	b.sigCh = make(chan os.Signal, 1)
	b.mu.Unlock()

	signal.Notify(b.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-b.sigCh
		b.handleSignal()
	}()
}

// Register installs cb under id, replacing any callback previously
// registered under the same id.
func (b *Bridge) Register(id string, cb CleanupFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[id] = cb
}

// Unregister removes id's callback, if any.
func (b *Bridge) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.callbacks, id)
}

// handleSignal runs every registered callback once, swallowing and
// logging individual errors/panics, then exits 0 (SPEC_FULL.md §7:
// "signalled processes return 0 after cleanup"). Idempotent — a second
// signal while cleanup is in flight or after it completed is a no-op.
func (b *Bridge) handleSignal() {
	b.mu.Lock()
	if b.signalled {
		b.mu.Unlock()
		return
	}
	b.signalled = true
	cbs := make([]CleanupFunc, 0, len(b.callbacks))
	for _, cb := range b.callbacks {
		cbs = append(cbs, cb)
	}
	exit := b.exit
	b.mu.Unlock()

	logger := log.WithComponent("signalbridge")
	logger.Info().Int("callbacks", len(cbs)).Msg("signal received, running cleanup callbacks")
	for _, cb := range cbs {
		runCallback(cb, logger)
	}
	exit(0)
}

func runCallback(cb CleanupFunc, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Msg("signal bridge callback panicked")
		}
	}()
	cb()
}
