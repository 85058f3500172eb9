package operation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/events"
	"github.com/tomledger/dpl/pkg/metrics"
	"github.com/tomledger/dpl/pkg/types"
)

// Work is the background function a SpawnedCall runs. It receives a
// context cancelled by Cancel and the handle itself, so it can poll
// IsCancelled cooperatively (SPEC_FULL.md §5: "it is the responsibility
// of work to observe this").
type Work[T any] func(ctx context.Context, call *SpawnedCall[T]) (T, error)

// OnCallCrashed offers a fallback result for a SpawnedCall whose work
// returned an error; returning ok=true treats the call as successful with
// the given value instead of failing it.
type OnCallCrashed[T any] func(err error) (fallback T, ok bool)

// SpawnedCallOptions configures SpawnCall.
type SpawnedCallOptions[T any] struct {
	CallID           string
	Description      string
	FailOnCrash      *bool
	SupervisorID     string
	SupervisorHandle string
	Work             Work[T]
	OnCompletion     func(T)
	OnCallCrashed    OnCallCrashed[T]
	OnCleanup        func(error)
}

func (o SpawnedCallOptions[T]) failOnCrash() bool {
	if o.FailOnCrash == nil {
		return true
	}
	return *o.FailOnCrash
}

// SpawnedCall is an asynchronous call handle (SPEC_FULL.md §4.3): work
// begins executing immediately in the background; the caller observes
// completion through Future, the IsCompleted/IsSuccess accessors, or Sync.
type SpawnedCall[T any] struct {
	op          *Operation
	callID      string
	description string
	failOnCrash bool
	startedAt   time.Time
	onComplete  func(T)
	onCrashed   OnCallCrashed[T]
	onCleanup   func(error)

	ctx    context.Context
	cancel context.CancelFunc

	cancelled   atomic.Bool
	isCompleted atomic.Bool
	isSuccess   atomic.Bool

	mu     sync.Mutex
	result T
	err    error

	future *events.Observable[CallOutcome[T]]
}

// SpawnCall pushes a frame and begins executing opts.Work on a background
// goroutine. See StartCall for why this is a free function.
func SpawnCall[T any](op *Operation, opts SpawnedCallOptions[T]) (*SpawnedCall[T], error) {
	callID := opts.CallID
	if callID == "" {
		callID = NewCallID()
	}
	if err := op.CreateCallFrame(callID, opts.Description, opts.SupervisorID, opts.SupervisorHandle); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &SpawnedCall[T]{
		op:          op,
		callID:      callID,
		description: opts.Description,
		failOnCrash: opts.failOnCrash(),
		startedAt:   time.Now(),
		onComplete:  opts.OnCompletion,
		onCrashed:   opts.OnCallCrashed,
		onCleanup:   opts.OnCleanup,
		ctx:         ctx,
		cancel:      cancel,
		future:      events.NewObservable[CallOutcome[T]](),
	}
	op.registerCall(callID, sc.failOnCrash, sc.Cancel)
	metrics.CallsStartedTotal.WithLabelValues("spawned").Inc()

	go sc.run(opts.Work)
	return sc, nil
}

// CallID returns the frame's callId.
func (sc *SpawnedCall[T]) CallID() string { return sc.callID }

// Future resolves once work finishes, successfully or not.
func (sc *SpawnedCall[T]) Future() *events.Observable[CallOutcome[T]] { return sc.future }

// Cancel requests cooperative cancellation (SPEC_FULL.md §5): it sets
// IsCancelled and cancels the context passed to Work; Work must observe
// either to actually stop.
func (sc *SpawnedCall[T]) Cancel() {
	sc.cancelled.Store(true)
	sc.cancel()
}

// IsCancelled reports whether Cancel has been called.
func (sc *SpawnedCall[T]) IsCancelled() bool { return sc.cancelled.Load() }

// IsCompleted reports whether work has returned (success or failure).
func (sc *SpawnedCall[T]) IsCompleted() bool { return sc.isCompleted.Load() }

// IsSuccess reports whether work completed without error (or a fallback
// was supplied by OnCallCrashed). Meaningless until IsCompleted is true.
func (sc *SpawnedCall[T]) IsSuccess() bool { return sc.isSuccess.Load() }

// Result returns the completed value and whether the call succeeded.
func (sc *SpawnedCall[T]) Result() (T, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.result, sc.isSuccess.Load()
}

// Err returns the error work completed with, or nil.
func (sc *SpawnedCall[T]) Err() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.err
}

func (sc *SpawnedCall[T]) run(work Work[T]) {
	defer func() {
		if r := recover(); r != nil {
			sc.finishFailure(fmt.Errorf("panic in spawned call: %v", r))
		}
	}()

	result, err := work(sc.ctx, sc)
	if err != nil {
		sc.finishFailure(err)
		return
	}
	sc.finishSuccess(result)
}

func (sc *SpawnedCall[T]) finishSuccess(result T) {
	if err := sc.op.DeleteCallFrame(sc.callID); err != nil && dplerr.CodeOf(err) != dplerr.CallNotFound {
		sc.finishFailure(err)
		return
	}
	sc.op.unregisterCall(sc.callID)

	sc.mu.Lock()
	sc.result = result
	sc.mu.Unlock()
	sc.isSuccess.Store(true)
	sc.isCompleted.Store(true)

	if sc.onComplete != nil {
		sc.onComplete(result)
	}
	metrics.CallDuration.WithLabelValues("completed").Observe(time.Since(sc.startedAt).Seconds())
	sc.future.Resolve(CallOutcome[T]{Result: result})
}

func (sc *SpawnedCall[T]) finishFailure(workErr error) {
	if sc.onCrashed != nil {
		if fallback, ok := sc.onCrashed(workErr); ok {
			sc.finishSuccess(fallback)
			return
		}
	}

	if err := sc.op.DeleteCallFrame(sc.callID); err != nil && dplerr.CodeOf(err) != dplerr.CallNotFound {
		workErr = err
	}
	sc.op.unregisterCall(sc.callID)

	sc.mu.Lock()
	sc.err = workErr
	sc.mu.Unlock()
	sc.isCompleted.Store(true)

	if sc.onCleanup != nil {
		sc.onCleanup(workErr)
	}
	sc.op.onCleanup.Emit(types.CallFrame{CallID: sc.callID, ParticipantID: sc.op.participantID, Description: sc.description})
	if sc.failOnCrash {
		sc.op.signalOperationFailed(workErr.Error(), []string{sc.callID})
	}
	metrics.CallDuration.WithLabelValues("failed").Observe(time.Since(sc.startedAt).Seconds())
	sc.future.Resolve(CallOutcome[T]{Err: workErr})
}

// SyncResult categorizes the outcome of Sync (SPEC_FULL.md §4.3).
type SyncResult[T any] struct {
	Successful      []T
	Failed          []error
	Unknown         []string // callIDs still pending when OperationFailed short-circuited
	OperationFailed bool
}

// SyncOptions configures Sync's optional callbacks.
type SyncOptions[T any] struct {
	OnCompletion      func(SyncResult[T])
	OnOperationFailed func(FailedInfo)
}

// Sync awaits the earlier of every call in calls completing, or op's
// onFailure resolving, and returns a categorised SyncResult. Like
// StartCall/SpawnCall, this is a free function rather than a method
// because Go methods cannot be generic.
func Sync[T any](op *Operation, calls []*SpawnedCall[T], opts SyncOptions[T]) SyncResult[T] {
	if len(calls) == 0 {
		return SyncResult[T]{}
	}

	allDone := make(chan struct{})
	go func() {
		for _, c := range calls {
			<-c.Future().Done()
		}
		close(allDone)
	}()

	var result SyncResult[T]
	select {
	case <-allDone:
		for _, c := range calls {
			outcome, _ := c.Future().Value()
			if outcome.Err != nil {
				result.Failed = append(result.Failed, outcome.Err)
			} else {
				result.Successful = append(result.Successful, outcome.Result)
			}
		}
	case <-op.OnFailure().Done():
		result.OperationFailed = true
		for _, c := range calls {
			if outcome, ok := c.Future().Value(); ok {
				if outcome.Err != nil {
					result.Failed = append(result.Failed, outcome.Err)
				} else {
					result.Successful = append(result.Successful, outcome.Result)
				}
			} else {
				result.Unknown = append(result.Unknown, c.CallID())
			}
		}
		if opts.OnOperationFailed != nil {
			if info, ok := op.OnFailure().Value(); ok {
				opts.OnOperationFailed(info)
			}
		}
	}

	if opts.OnCompletion != nil {
		opts.OnCompletion(result)
	}
	return result
}
