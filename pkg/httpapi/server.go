package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/ledger"
	"github.com/tomledger/dpl/pkg/log"
	"github.com/tomledger/dpl/pkg/metrics"
	"github.com/tomledger/dpl/pkg/operation"
)

// Version is reported by GET /status; overridden via -ldflags like the
// teacher's cmd/warren Version var.
var Version = "dev"

// Server is the reference implementation of the SPEC_FULL.md §6 veneer:
// a net/http handler wrapping one process's Ledger.
type Server struct {
	ledger *ledger.Ledger
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewServer wraps l with the §6 endpoint table.
func NewServer(l *ledger.Ledger) *Server {
	s := &Server{ledger: l, logger: log.WithComponent("httpapi")}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /operation/create", s.wrap("operation.create", s.handleCreate))
	s.mux.HandleFunc("POST /operation/join", s.wrap("operation.join", s.handleJoin))
	s.mux.HandleFunc("POST /operation/heartbeat", s.wrap("operation.heartbeat", s.handleHeartbeat))
	s.mux.HandleFunc("POST /operation/abort", s.wrap("operation.abort", s.handleAbort))
	s.mux.HandleFunc("POST /operation/state", s.wrap("operation.state", s.handleState))
	s.mux.HandleFunc("POST /operation/log", s.wrap("operation.log", s.handleLog))
	s.mux.HandleFunc("POST /operation/leave", s.wrap("operation.leave", s.handleLeave))
	s.mux.HandleFunc("POST /operation/complete", s.wrap("operation.complete", s.handleComplete))
	s.mux.HandleFunc("POST /call/start", s.wrap("call.start", s.handleCallStart))
	s.mux.HandleFunc("POST /call/end", s.wrap("call.end", s.handleCallEnd))
	s.mux.HandleFunc("POST /call/fail", s.wrap("call.fail", s.handleCallFail))
	s.mux.HandleFunc("POST /callframe/create", s.wrap("callframe.create", s.handleFrameCreate))
	s.mux.HandleFunc("POST /callframe/delete", s.wrap("callframe.delete", s.handleFrameDelete))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// wrap records the per-method request-count/duration metrics §6 wants
// observable and centralizes JSON decode-error handling.
func (s *Server) wrap(method string, fn func(*http.Request) (any, *dplerr.Error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		resp, apiErr := fn(r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)

		if apiErr != nil {
			status := statusFor(apiErr.Code)
			metrics.APIRequestsTotal.WithLabelValues(method, http.StatusText(status)).Inc()
			writeJSON(w, status, ErrorResponse{Code: string(apiErr.Code), Message: apiErr.Message})
			return
		}
		metrics.APIRequestsTotal.WithLabelValues(method, "200").Inc()
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(code dplerr.Code) int {
	switch code {
	case dplerr.OperationNotFound, dplerr.CallNotFound:
		return http.StatusNotFound
	case dplerr.LockTimeout:
		return http.StatusServiceUnavailable
	case dplerr.PendingCalls, dplerr.StateMismatch, dplerr.DuplicateCallID:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Service: "dpl", Version: Version})
}

func decode[T any](r *http.Request) (T, *dplerr.Error) {
	var body T
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, dplerr.Wrap(dplerr.IOError, "httpapi: decode request body", err)
	}
	return body, nil
}

func asAPIErr(err error) *dplerr.Error {
	if err == nil {
		return nil
	}
	if code := dplerr.CodeOf(err); code != "" {
		return dplerr.New(code, err.Error())
	}
	return dplerr.Wrap(dplerr.IOError, "httpapi", err)
}

func (s *Server) handle(opID string, sessionID int) (*operation.Operation, *dplerr.Error) {
	op, ok := s.ledger.Handle(opID, sessionID)
	if !ok {
		return nil, dplerr.New(dplerr.OperationNotFound, "no local session "+opID)
	}
	return op, nil
}

func (s *Server) handleCreate(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[CreateOperationRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, err := s.ledger.CreateOperation(req.ParticipantID, req.ParticipantPID, req.Description)
	if err != nil {
		return nil, asAPIErr(err)
	}
	return CreateOperationResponse{
		OperationID: op.OperationID(),
		SessionID:   op.SessionID(),
		StartTime:   time.Now(),
		IsInitiator: true,
	}, nil
}

func (s *Server) handleJoin(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[JoinOperationRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, err := s.ledger.JoinOperation(req.OperationID, req.ParticipantID, req.ParticipantPID)
	if err != nil {
		return nil, asAPIErr(err)
	}
	return JoinOperationResponse{
		SessionID:   op.SessionID(),
		StartTime:   time.Now(),
		IsInitiator: false,
	}, nil
}

func (s *Server) handleHeartbeat(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[HeartbeatRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	result, err := op.Tick(r.Context())
	if err != nil {
		return nil, asAPIErr(err)
	}
	return heartbeatResponseFrom(result), nil
}

func (s *Server) handleAbort(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[AbortRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	if err := op.SetAbortFlag(req.Value); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleState(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[StateRequest](r)
	if derr != nil {
		return nil, derr
	}
	rec, err := s.ledger.Store().Read(req.OperationID)
	if err != nil {
		return nil, asAPIErr(err)
	}
	return StateResponse{
		OperationID:   rec.OperationID,
		Status:        rec.Status,
		Aborted:       rec.Aborted,
		StartTime:     rec.StartTime,
		LastHeartbeat: rec.LastHeartbeat,
		CallFrames:    rec.CallFrames,
		Participants:  rec.Participants,
		Description:   rec.Description,
	}, nil
}

func (s *Server) handleLog(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[LogRequest](r)
	if derr != nil {
		return nil, derr
	}
	level := req.Level
	if level == "" {
		level = "info"
	}
	if err := s.ledger.Store().AppendLog(req.OperationID, req.Message, level); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleLeave(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[LeaveRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	if err := op.Leave(req.CancelPendingCalls); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleComplete(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[CompleteRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	if err := op.Complete(); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleCallStart(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[CallStartRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	callID := operation.NewCallID()
	if err := op.CreateCallFrame(callID, req.Description, "", ""); err != nil {
		return nil, asAPIErr(err)
	}
	metrics.CallsStartedTotal.WithLabelValues("http").Inc()
	return CallStartResponse{CallID: callID, StartedAt: time.Now()}, nil
}

func (s *Server) handleCallEnd(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[CallEndRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	if err := op.DeleteCallFrame(req.CallID); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleCallFail(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[CallFailRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	reason := req.Error
	if reason == "" {
		reason = "call failed"
	}
	if err := op.FailCallFrame(req.CallID, reason, req.failOnCrash()); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleFrameCreate(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[CallFrameRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	if err := op.CreateCallFrame(req.CallID, req.Description, "", ""); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleFrameDelete(r *http.Request) (any, *dplerr.Error) {
	req, derr := decode[CallFrameRequest](r)
	if derr != nil {
		return nil, derr
	}
	op, aerr := s.handle(req.OperationID, req.SessionID)
	if aerr != nil {
		return nil, aerr
	}
	if err := op.DeleteCallFrame(req.CallID); err != nil {
		return nil, asAPIErr(err)
	}
	return struct{}{}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
