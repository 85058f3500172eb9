package httpapi

import (
	"time"

	"github.com/tomledger/dpl/pkg/heartbeat"
	"github.com/tomledger/dpl/pkg/types"
)

// CreateOperationRequest is POST /operation/create's body.
type CreateOperationRequest struct {
	ParticipantID   string `json:"participantId"`
	ParticipantPID  int    `json:"participantPid"`
	Description     string `json:"description,omitempty"`
}

// CreateOperationResponse is POST /operation/create's 200 body.
type CreateOperationResponse struct {
	OperationID string    `json:"operationId"`
	SessionID   int       `json:"sessionId"`
	StartTime   time.Time `json:"startTime"`
	IsInitiator bool      `json:"isInitiator"`
}

// JoinOperationRequest is POST /operation/join's body.
type JoinOperationRequest struct {
	OperationID    string `json:"operationId"`
	ParticipantID  string `json:"participantId"`
	ParticipantPID int    `json:"participantPid"`
}

// JoinOperationResponse is POST /operation/join's 200 body.
type JoinOperationResponse struct {
	SessionID   int       `json:"sessionId"`
	StartTime   time.Time `json:"startTime"`
	IsInitiator bool      `json:"isInitiator"`
}

// HeartbeatRequest is POST /operation/heartbeat's body.
type HeartbeatRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
}

// HeartbeatResponse mirrors heartbeat.Result over the wire.
type HeartbeatResponse struct {
	AbortFlag         bool     `json:"abortFlag"`
	FrameCount        int      `json:"frameCount"`
	TempResourceCount int      `json:"tempResourceCount"`
	HeartbeatAgeMs    int64    `json:"heartbeatAgeMs"`
	IsStale           bool     `json:"isStale"`
	StaleParticipants []string `json:"staleParticipants"`
}

func heartbeatResponseFrom(r heartbeat.Result) HeartbeatResponse {
	return HeartbeatResponse{
		AbortFlag:         r.AbortFlag,
		FrameCount:        r.FrameCount,
		TempResourceCount: r.TempResourceCount,
		HeartbeatAgeMs:    r.HeartbeatAgeMs,
		IsStale:           r.IsStale,
		StaleParticipants: r.StaleParticipants,
	}
}

// AbortRequest is POST /operation/abort's body.
type AbortRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
	Value       bool   `json:"value"`
}

// StateRequest is POST /operation/state's body.
type StateRequest struct {
	OperationID string `json:"operationId"`
}

// StateResponse is the snapshot subset returned by POST /operation/state.
type StateResponse struct {
	OperationID   string               `json:"operationId"`
	Status        types.OperationStatus `json:"status"`
	Aborted       bool                 `json:"aborted"`
	StartTime     time.Time            `json:"startTime"`
	LastHeartbeat time.Time            `json:"lastHeartbeat"`
	CallFrames    []types.CallFrame    `json:"callFrames"`
	Participants  []types.Participant  `json:"participants"`
	Description   string               `json:"description,omitempty"`
}

// LogRequest is POST /operation/log's body.
type LogRequest struct {
	OperationID string         `json:"operationId"`
	Message     string         `json:"message"`
	Level       types.LogLevel `json:"level,omitempty"`
}

// LeaveRequest is POST /operation/leave's body.
type LeaveRequest struct {
	OperationID        string `json:"operationId"`
	SessionID          int    `json:"sessionId"`
	CancelPendingCalls bool   `json:"cancelPendingCalls,omitempty"`
}

// CompleteRequest is POST /operation/complete's body.
type CompleteRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
}

// CallStartRequest is POST /call/start's body.
type CallStartRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
	Description string `json:"description,omitempty"`
	FailOnCrash *bool  `json:"failOnCrash,omitempty"`
}

// CallStartResponse is POST /call/start's 200 body.
type CallStartResponse struct {
	CallID    string    `json:"callId"`
	StartedAt time.Time `json:"startedAt"`
}

// CallEndRequest is POST /call/end's body.
type CallEndRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
	CallID      string `json:"callId"`
}

// CallFailRequest is POST /call/fail's body. FailOnCrash mirrors
// CallStartRequest's field and defaults to true when omitted, matching
// SPEC_FULL.md §4.3's "failOnCrash=true (default)" — the HTTP veneer has
// no persistent Call[T] handle to remember the value from /call/start, so
// the caller repeats its choice here.
type CallFailRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
	CallID      string `json:"callId"`
	Error       string `json:"error,omitempty"`
	FailOnCrash *bool  `json:"failOnCrash,omitempty"`
}

func (r CallFailRequest) failOnCrash() bool {
	if r.FailOnCrash == nil {
		return true
	}
	return *r.FailOnCrash
}

// CallFrameRequest is POST /callframe/create and /callframe/delete's body.
type CallFrameRequest struct {
	OperationID string `json:"operationId"`
	SessionID   int    `json:"sessionId"`
	CallID      string `json:"callId"`
	Description string `json:"description,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusResponse is GET /status's body.
type StatusResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}
