package operation

import (
	"errors"
	"sync"
	"time"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/events"
	"github.com/tomledger/dpl/pkg/metrics"
	"github.com/tomledger/dpl/pkg/types"
)

// ErrCancelled is the error a cancelled Call or SpawnedCall fails with.
var ErrCancelled = errors.New("cancelled")

// CallOutcome is the value a Call[T]'s Future resolves with.
type CallOutcome[T any] struct {
	Result T
	Err    error
}

// CallOptions configures StartCall. FailOnCrash defaults to true when nil,
// matching SPEC_FULL.md §4.3's "failOnCrash=true (default)".
type CallOptions[T any] struct {
	CallID           string
	Description      string
	FailOnCrash      *bool
	SupervisorID     string
	SupervisorHandle string
	OnCompletion     func(T)
	OnCleanup        func(error)
}

func (o CallOptions[T]) failOnCrash() bool {
	if o.FailOnCrash == nil {
		return true
	}
	return *o.FailOnCrash
}

// Call is a synchronous call handle (SPEC_FULL.md §4.3): the caller ends
// it with End or Fail, which atomically deletes the frame, fires the
// installed callback, and resolves Future.
type Call[T any] struct {
	op          *Operation
	callID      string
	description string
	failOnCrash bool
	startedAt   time.Time
	onComplete  func(T)
	onCleanup   func(error)

	mu   sync.Mutex
	done bool

	future *events.Observable[CallOutcome[T]]
}

// StartCall pushes a new frame and returns its handle. Go has no generic
// methods, so this is a free function taking the Operation explicitly
// rather than an Operation method.
func StartCall[T any](op *Operation, opts CallOptions[T]) (*Call[T], error) {
	callID := opts.CallID
	if callID == "" {
		callID = NewCallID()
	}
	failOnCrash := opts.failOnCrash()

	if err := op.CreateCallFrame(callID, opts.Description, opts.SupervisorID, opts.SupervisorHandle); err != nil {
		return nil, err
	}

	c := &Call[T]{
		op:          op,
		callID:      callID,
		description: opts.Description,
		failOnCrash: failOnCrash,
		startedAt:   time.Now(),
		onComplete:  opts.OnCompletion,
		onCleanup:   opts.OnCleanup,
		future:      events.NewObservable[CallOutcome[T]](),
	}
	op.registerCall(callID, failOnCrash, c.cancel)
	metrics.CallsStartedTotal.WithLabelValues("call").Inc()
	return c, nil
}

// CallID returns the frame's callId.
func (c *Call[T]) CallID() string { return c.callID }

// Future resolves once End or Fail completes this call.
func (c *Call[T]) Future() *events.Observable[CallOutcome[T]] { return c.future }

// End completes the call successfully (SPEC_FULL.md §4.3's "Call
// completion contract").
func (c *Call[T]) End(result T) error {
	return c.finish(result, nil)
}

// Fail completes the call abnormally. If FailOnCrash is true, this also
// signals the whole operation's onFailure.
func (c *Call[T]) Fail(err error) error {
	if err == nil {
		err = errors.New("call failed")
	}
	var zero T
	return c.finish(zero, err)
}

func (c *Call[T]) cancel() {
	_ = c.Fail(ErrCancelled)
}

func (c *Call[T]) finish(result T, failErr error) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	c.done = true
	c.mu.Unlock()

	if err := c.op.DeleteCallFrame(c.callID); err != nil && dplerr.CodeOf(err) != dplerr.CallNotFound {
		return err
	}
	c.op.unregisterCall(c.callID)

	if failErr != nil {
		if c.onCleanup != nil {
			c.onCleanup(failErr)
		}
		c.op.onCleanup.Emit(types.CallFrame{CallID: c.callID, ParticipantID: c.op.participantID, Description: c.description})
		if c.failOnCrash {
			c.op.signalOperationFailed(failErr.Error(), []string{c.callID})
		}
		metrics.CallDuration.WithLabelValues("failed").Observe(time.Since(c.startedAt).Seconds())
	} else {
		if c.onComplete != nil {
			c.onComplete(result)
		}
		metrics.CallDuration.WithLabelValues("completed").Observe(time.Since(c.startedAt).Seconds())
	}

	c.future.Resolve(CallOutcome[T]{Result: result, Err: failErr})
	return nil
}
