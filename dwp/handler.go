package dwp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/engine"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/stream"
)

// Handler dispatches request frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	broker *stream.Broker
	conns  *ConnectionManager
	logger *slog.Logger
}

// NewHandler creates a new method handler.
func NewHandler(eng *engine.Engine, broker *stream.Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{eng: eng, broker: broker, logger: logger}
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodJobList:
		return h.handleJobList(ctx, frame)
	case MethodJobGet:
		return h.handleJobGet(ctx, frame)
	case MethodJobActivate:
		return h.handleJobActivate(ctx, frame)
	case MethodJobDeactivate:
		return h.handleJobDeactivate(ctx, frame)
	case MethodJobUpdate:
		return h.handleJobUpdate(ctx, frame)
	case MethodExecutionCreate:
		return h.handleExecutionCreate(ctx, frame)
	case MethodExecutionGet:
		return h.handleExecutionGet(ctx, frame)
	case MethodExecutionList:
		return h.handleExecutionList(ctx, frame)
	case MethodExecutionUpdate:
		return h.handleExecutionUpdate(ctx, frame)
	case MethodExecutionDelete:
		return h.handleExecutionDelete(ctx, frame)
	case MethodExecutionAbort:
		return h.handleExecutionAbort(ctx, frame)
	case MethodBatchCreate:
		return h.handleBatchCreate(ctx, frame)
	case MethodBatchGet:
		return h.handleBatchGet(ctx, frame)
	case MethodChainCreate:
		return h.handleChainCreate(ctx, frame)
	case MethodChainGet:
		return h.handleChainGet(ctx, frame)
	case MethodChainAppend:
		return h.handleChainAppend(ctx, frame)
	case MethodScheduleNext:
		return h.handleScheduleNext(frame)
	case MethodScheduleBetween:
		return h.handleScheduleBetween(frame)
	case MethodStats:
		return h.handleStats(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame, conn)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame, conn)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// errorFrame maps engine errors onto protocol error codes.
func (h *Handler) errorFrame(frameID string, err error) *Frame {
	code := ErrCodeInternal
	switch {
	case errors.Is(err, workhorse.ErrJobNotFound),
		errors.Is(err, workhorse.ErrExecutionNotFound),
		errors.Is(err, workhorse.ErrChainNotFound):
		code = ErrCodeNotFound
	case errors.Is(err, workhorse.ErrJobAlreadyExists),
		errors.Is(err, workhorse.ErrExecutionAlreadyExists),
		errors.Is(err, workhorse.ErrExecutionConflict):
		code = ErrCodeConflict
	case errors.Is(err, workhorse.ErrInvalidState),
		errors.Is(err, workhorse.ErrInvalidSchedule),
		errors.Is(err, workhorse.ErrInvalidConfig),
		errors.Is(err, workhorse.ErrEmptyGroup),
		errors.Is(err, workhorse.ErrWorkerNotFound),
		errors.Is(err, workhorse.ErrJobInactive):
		code = ErrCodeBadRequest
	case errors.Is(err, workhorse.ErrEngineNotRunning):
		code = ErrCodeUnavailable
	}
	if code == ErrCodeInternal {
		h.logger.Error("request failed", slog.String("frame_id", frameID), slog.String("error", err.Error()))
	}
	return NewErrorFrame(frameID, code, err.Error())
}

func decode(frame *Frame, v any) *Frame {
	if len(frame.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	return nil
}

func badRequest(frame *Frame, what string, err error) *Frame {
	return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid "+what+": "+err.Error())
}

// resolveJob looks a job up by ID, or by name when no ID is given.
func (h *Handler) resolveJob(ctx context.Context, ref JobRef) (*job.Job, error) {
	if ref.JobID != "" {
		jobID, err := id.ParseJobID(ref.JobID)
		if err != nil {
			return nil, err
		}
		return h.eng.GetJob(ctx, jobID)
	}
	if ref.Name == "" {
		return nil, errors.New("job_id or name is required")
	}
	return h.eng.GetJobByName(ctx, ref.Name)
}

func (h *Handler) jobOrError(ctx context.Context, frame *Frame, ref JobRef) (*job.Job, *Frame) {
	j, err := h.resolveJob(ctx, ref)
	if err != nil {
		if errors.Is(err, workhorse.ErrJobNotFound) {
			return nil, h.errorFrame(frame.ID, err)
		}
		return nil, badRequest(frame, "job reference", err)
	}
	return j, nil
}

// ── Jobs ────────────────────────────────────────────

func (h *Handler) handleJobList(ctx context.Context, frame *Frame) *Frame {
	var req JobListRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}

	var opts job.ListOpts
	if req.Status != "" {
		st, err := job.ParseStatus(req.Status)
		if err != nil {
			return badRequest(frame, "status", err)
		}
		opts.Status = st
	}

	jobs, err := h.eng.ListJobs(ctx, opts)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, jobs)
}

func (h *Handler) handleJobGet(ctx context.Context, frame *Frame) *Frame {
	var req JobRef
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	j, errFrame := h.jobOrError(ctx, frame, req)
	if errFrame != nil {
		return errFrame
	}
	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobActivate(ctx context.Context, frame *Frame) *Frame {
	var req JobRef
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	j, errFrame := h.jobOrError(ctx, frame, req)
	if errFrame != nil {
		return errFrame
	}
	j, err := h.eng.ActivateJob(ctx, j.ID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobDeactivate(ctx context.Context, frame *Frame) *Frame {
	var req JobRef
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	j, errFrame := h.jobOrError(ctx, frame, req)
	if errFrame != nil {
		return errFrame
	}
	j, err := h.eng.DeactivateJob(ctx, j.ID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobUpdate(ctx context.Context, frame *Frame) *Frame {
	var req JobUpdateRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	j, errFrame := h.jobOrError(ctx, frame, req.JobRef)
	if errFrame != nil {
		return errFrame
	}

	if req.Description != nil {
		j.Description = *req.Description
	}
	if req.Threads != nil {
		j.Threads = *req.Threads
	}
	if req.MaxPerMinute != nil {
		j.MaxPerMinute = *req.MaxPerMinute
	}
	if req.FailRetries != nil {
		j.FailRetries = *req.FailRetries
	}
	if req.RetryDelayMs != nil {
		j.RetryDelay = time.Duration(*req.RetryDelayMs) * time.Millisecond
	}
	if req.Schedule != nil {
		j.Schedule = *req.Schedule
	}
	if req.UniqueQueued != nil {
		j.UniqueQueued = *req.UniqueQueued
	}
	if req.MinutesUntilCleanup != nil {
		j.MinutesUntilCleanup = *req.MinutesUntilCleanup
	}

	j, err := h.eng.UpdateJob(ctx, j)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, j)
}

// ── Executions ──────────────────────────────────────

func (o ExecutionOptions) options() []execution.Option {
	var opts []execution.Option
	if o.Priority {
		opts = append(opts, execution.WithPriority())
	}
	if o.PlannedFor != nil {
		opts = append(opts, execution.WithPlannedFor(*o.PlannedFor))
	}
	if o.ExpiresAt != nil {
		opts = append(opts, execution.WithExpiresAt(*o.ExpiresAt))
	}
	return opts
}

func (h *Handler) handleExecutionCreate(ctx context.Context, frame *Frame) *Frame {
	var req ExecutionCreateRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	j, errFrame := h.jobOrError(ctx, frame, req.JobRef)
	if errFrame != nil {
		return errFrame
	}

	e, err := h.eng.CreateExecution(ctx, j.ID, req.Parameters, req.options()...)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, e)
}

func (h *Handler) executionID(frame *Frame) (id.ExecutionID, *Frame) {
	var req ExecutionRef
	if errFrame := decode(frame, &req); errFrame != nil {
		return id.Nil, errFrame
	}
	execID, err := id.ParseExecutionID(req.ExecutionID)
	if err != nil {
		return id.Nil, badRequest(frame, "execution ID", err)
	}
	return execID, nil
}

func (h *Handler) handleExecutionGet(ctx context.Context, frame *Frame) *Frame {
	execID, errFrame := h.executionID(frame)
	if errFrame != nil {
		return errFrame
	}
	e, err := h.eng.GetExecution(ctx, execID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, e)
}

func (h *Handler) handleExecutionList(ctx context.Context, frame *Frame) *Frame {
	var req ExecutionListRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}

	opts := execution.ListOpts{Limit: req.Limit, Offset: req.Offset}
	var err error
	if opts.JobID, err = id.ParseOptional(req.JobID, id.PrefixJob); err != nil {
		return badRequest(frame, "job ID", err)
	}
	if opts.BatchID, err = id.ParseOptional(req.BatchID, id.PrefixBatch); err != nil {
		return badRequest(frame, "batch ID", err)
	}
	if opts.ChainID, err = id.ParseOptional(req.ChainID, id.PrefixChain); err != nil {
		return badRequest(frame, "chain ID", err)
	}
	if req.Status != "" {
		if opts.Status, err = execution.ParseStatus(req.Status); err != nil {
			return badRequest(frame, "status", err)
		}
	}

	execs, err := h.eng.ListExecutions(ctx, opts)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, execs)
}

func (h *Handler) handleExecutionUpdate(ctx context.Context, frame *Frame) *Frame {
	var req ExecutionUpdateRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	execID, err := id.ParseExecutionID(req.ExecutionID)
	if err != nil {
		return badRequest(frame, "execution ID", err)
	}

	e, err := h.eng.GetExecution(ctx, execID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	if req.Status != nil {
		st, err := execution.ParseStatus(*req.Status)
		if err != nil {
			return badRequest(frame, "status", err)
		}
		e.Status = st
	}
	if req.Priority != nil {
		e.Priority = *req.Priority
	}
	if req.PlannedFor != nil {
		planned := req.PlannedFor.UTC()
		e.PlannedFor = &planned
	}
	if req.ExpiresAt != nil {
		expires := req.ExpiresAt.UTC()
		e.ExpiresAt = &expires
	}
	if req.Parameters != nil {
		e.Parameters = req.Parameters
	}

	e, err = h.eng.UpdateExecution(ctx, e)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, e)
}

func (h *Handler) handleExecutionDelete(ctx context.Context, frame *Frame) *Frame {
	execID, errFrame := h.executionID(frame)
	if errFrame != nil {
		return errFrame
	}
	if err := h.eng.DeleteExecution(ctx, execID); err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, map[string]string{
		"execution_id": execID.String(),
		"status":       "deleted",
	})
}

func (h *Handler) handleExecutionAbort(ctx context.Context, frame *Frame) *Frame {
	execID, errFrame := h.executionID(frame)
	if errFrame != nil {
		return errFrame
	}
	e, err := h.eng.AbortExecution(ctx, execID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, e)
}

// ── Batches and chains ──────────────────────────────

func rawParams(in []json.RawMessage) [][]byte {
	out := make([][]byte, len(in))
	for i, p := range in {
		out[i] = p
	}
	return out
}

func groupCreated(groupID string, execs []*execution.Execution) GroupCreateResponse {
	resp := GroupCreateResponse{GroupID: groupID, ExecutionIDs: make([]string, len(execs))}
	for i, e := range execs {
		resp.ExecutionIDs[i] = e.ID.String()
	}
	return resp
}

func (h *Handler) handleBatchCreate(ctx context.Context, frame *Frame) *Frame {
	var req GroupCreateRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	j, errFrame := h.jobOrError(ctx, frame, req.JobRef)
	if errFrame != nil {
		return errFrame
	}

	batchID, execs, err := h.eng.CreateBatch(ctx, j.ID, rawParams(req.Parameters), req.options()...)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, groupCreated(batchID.String(), execs))
}

func (h *Handler) handleBatchGet(ctx context.Context, frame *Frame) *Frame {
	var req BatchRef
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	batchID, err := id.ParseBatchID(req.BatchID)
	if err != nil {
		return badRequest(frame, "batch ID", err)
	}

	execs, err := h.eng.GetBatch(ctx, batchID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	finished, err := h.eng.IsBatchFinished(ctx, batchID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, GroupResponse{
		GroupID:    batchID.String(),
		Finished:   finished,
		Executions: execs,
	})
}

func (h *Handler) handleChainCreate(ctx context.Context, frame *Frame) *Frame {
	var req GroupCreateRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	j, errFrame := h.jobOrError(ctx, frame, req.JobRef)
	if errFrame != nil {
		return errFrame
	}

	chainID, execs, err := h.eng.CreateChain(ctx, j.ID, rawParams(req.Parameters), req.options()...)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, groupCreated(chainID.String(), execs))
}

func (h *Handler) handleChainGet(ctx context.Context, frame *Frame) *Frame {
	var req ChainRef
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	chainID, err := id.ParseChainID(req.ChainID)
	if err != nil {
		return badRequest(frame, "chain ID", err)
	}

	execs, err := h.eng.GetChain(ctx, chainID)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	finished := len(execs) > 0
	for _, e := range execs {
		if e.Status != execution.StatusFinished {
			finished = false
			break
		}
	}
	return mustResponseFrame(frame.ID, GroupResponse{
		GroupID:    chainID.String(),
		Finished:   finished,
		Executions: execs,
	})
}

func (h *Handler) handleChainAppend(ctx context.Context, frame *Frame) *Frame {
	var req ChainAppendRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	chainID, err := id.ParseChainID(req.ChainID)
	if err != nil {
		return badRequest(frame, "chain ID", err)
	}

	e, err := h.eng.AppendToChain(ctx, chainID, req.Parameters, req.options()...)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, e)
}

// ── Schedules ───────────────────────────────────────

func (h *Handler) handleScheduleNext(frame *Frame) *Frame {
	var req ScheduleNextRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	from := time.Now()
	if req.From != nil {
		from = *req.From
	}
	times, err := h.eng.NextScheduledTimes(req.Expr, req.Count, from)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, ScheduleResponse{Times: times})
}

func (h *Handler) handleScheduleBetween(frame *Frame) *Frame {
	var req ScheduleBetweenRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	times, err := h.eng.ScheduledTimesBetween(req.Expr, req.Start, req.End)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, ScheduleResponse{Times: times})
}

// ── Stats and subscriptions ─────────────────────────

func (h *Handler) handleStats(ctx context.Context, frame *Frame) *Frame {
	engStats, err := h.eng.Stats(ctx)
	if err != nil {
		return h.errorFrame(frame.ID, err)
	}
	resp := StatsResponse{Engine: engStats}
	if h.broker != nil {
		resp.Broker = h.broker.Stats()
	}
	if h.conns != nil {
		resp.Connections = h.conns.Count()
	}
	return mustResponseFrame(frame.ID, resp)
}

func (h *Handler) handleSubscribe(frame *Frame, conn *Connection) *Frame {
	if !conn.Streaming() {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "subscriptions require a websocket connection")
	}
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// Actual subscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame, conn *Connection) *Frame {
	if !conn.Streaming() {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "subscriptions require a websocket connection")
	}
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}
