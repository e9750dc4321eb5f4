package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/dwp"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
)

// ExecutionOption configures a new execution.
type ExecutionOption func(*dwp.ExecutionOptions)

// WithPriority puts the execution in the job's priority queue.
func WithPriority() ExecutionOption {
	return func(o *dwp.ExecutionOptions) { o.Priority = true }
}

// WithPlannedFor keeps the execution from running before t.
func WithPlannedFor(t time.Time) ExecutionOption {
	return func(o *dwp.ExecutionOptions) { o.PlannedFor = &t }
}

// WithExpiresAt fails the execution if it has not started by t.
func WithExpiresAt(t time.Time) ExecutionOption {
	return func(o *dwp.ExecutionOptions) { o.ExpiresAt = &t }
}

func executionOptions(opts []ExecutionOption) dwp.ExecutionOptions {
	var o dwp.ExecutionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	return raw, nil
}

// CreateExecution queues an execution of the job named by ref. params is
// JSON encoded unless it already is raw JSON.
func (c *Client) CreateExecution(ctx context.Context, ref string, params any, opts ...ExecutionOption) (*execution.Execution, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	req := dwp.ExecutionCreateRequest{
		JobRef:           jobRef(ref),
		ExecutionOptions: executionOptions(opts),
		Parameters:       raw,
	}
	var e execution.Execution
	if err := c.call(ctx, dwp.MethodExecutionCreate, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetExecution retrieves an execution by ID.
func (c *Client) GetExecution(ctx context.Context, execID string) (*execution.Execution, error) {
	var e execution.Execution
	if err := c.call(ctx, dwp.MethodExecutionGet, dwp.ExecutionRef{ExecutionID: execID}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExecutions returns executions matching the filter, oldest first.
func (c *Client) ListExecutions(ctx context.Context, filter dwp.ExecutionListRequest) ([]*execution.Execution, error) {
	var execs []*execution.Execution
	err := c.call(ctx, dwp.MethodExecutionList, filter, &execs)
	return execs, err
}

// UpdateExecution changes the non-nil fields of upd.
func (c *Client) UpdateExecution(ctx context.Context, upd dwp.ExecutionUpdateRequest) (*execution.Execution, error) {
	var e execution.Execution
	if err := c.call(ctx, dwp.MethodExecutionUpdate, upd, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteExecution removes an execution.
func (c *Client) DeleteExecution(ctx context.Context, execID string) error {
	return c.call(ctx, dwp.MethodExecutionDelete, dwp.ExecutionRef{ExecutionID: execID}, nil)
}

// AbortExecution aborts a QUEUED or RUNNING execution.
func (c *Client) AbortExecution(ctx context.Context, execID string) (*execution.Execution, error) {
	var e execution.Execution
	if err := c.call(ctx, dwp.MethodExecutionAbort, dwp.ExecutionRef{ExecutionID: execID}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func groupRequest(ref string, params []any, opts []ExecutionOption) (dwp.GroupCreateRequest, error) {
	req := dwp.GroupCreateRequest{
		JobRef:           jobRef(ref),
		ExecutionOptions: executionOptions(opts),
		Parameters:       make([]json.RawMessage, len(params)),
	}
	for i, p := range params {
		raw, err := marshalParams(p)
		if err != nil {
			return req, err
		}
		req.Parameters[i] = raw
	}
	return req, nil
}

// CreateBatch queues one execution per parameter set as a batch.
func (c *Client) CreateBatch(ctx context.Context, ref string, params []any, opts ...ExecutionOption) (*dwp.GroupCreateResponse, error) {
	req, err := groupRequest(ref, params, opts)
	if err != nil {
		return nil, err
	}
	var resp dwp.GroupCreateResponse
	if err := c.call(ctx, dwp.MethodBatchCreate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBatch returns the members of a batch and whether all have finished.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*dwp.GroupResponse, error) {
	var resp dwp.GroupResponse
	if err := c.call(ctx, dwp.MethodBatchGet, dwp.BatchRef{BatchID: batchID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateChain queues one execution per parameter set as a chain that runs
// in order.
func (c *Client) CreateChain(ctx context.Context, ref string, params []any, opts ...ExecutionOption) (*dwp.GroupCreateResponse, error) {
	req, err := groupRequest(ref, params, opts)
	if err != nil {
		return nil, err
	}
	var resp dwp.GroupCreateResponse
	if err := c.call(ctx, dwp.MethodChainCreate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetChain returns the members of a chain in order.
func (c *Client) GetChain(ctx context.Context, chainID string) (*dwp.GroupResponse, error) {
	var resp dwp.GroupResponse
	if err := c.call(ctx, dwp.MethodChainGet, dwp.ChainRef{ChainID: chainID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AppendToChain queues a new execution at the end of a chain.
func (c *Client) AppendToChain(ctx context.Context, chainID string, params any, opts ...ExecutionOption) (*execution.Execution, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	req := dwp.ChainAppendRequest{
		ChainRef:         dwp.ChainRef{ChainID: chainID},
		ExecutionOptions: executionOptions(opts),
		Parameters:       raw,
	}
	var e execution.Execution
	if err := c.call(ctx, dwp.MethodChainAppend, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
