package client

import (
	"context"

	"github.com/coodoo-workhorse/workhorse-sub001/dwp"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// jobRef treats ref as a job ID when it parses as one and as a job name
// otherwise.
func jobRef(ref string) dwp.JobRef {
	if _, err := id.ParseJobID(ref); err == nil {
		return dwp.JobRef{JobID: ref}
	}
	return dwp.JobRef{Name: ref}
}

// ListJobs returns the jobs, ordered by name. A non-empty status filters
// them.
func (c *Client) ListJobs(ctx context.Context, status job.Status) ([]*job.Job, error) {
	var jobs []*job.Job
	err := c.call(ctx, dwp.MethodJobList, dwp.JobListRequest{Status: string(status)}, &jobs)
	return jobs, err
}

// GetJob retrieves a job by ID or name.
func (c *Client) GetJob(ctx context.Context, ref string) (*job.Job, error) {
	var j job.Job
	if err := c.call(ctx, dwp.MethodJobGet, jobRef(ref), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ActivateJob starts a job's dispatcher and schedule.
func (c *Client) ActivateJob(ctx context.Context, ref string) (*job.Job, error) {
	var j job.Job
	if err := c.call(ctx, dwp.MethodJobActivate, jobRef(ref), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// DeactivateJob stops a job's dispatcher and schedule.
func (c *Client) DeactivateJob(ctx context.Context, ref string) (*job.Job, error) {
	var j job.Job
	if err := c.call(ctx, dwp.MethodJobDeactivate, jobRef(ref), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJob changes the non-nil settings of upd on the job named by ref.
func (c *Client) UpdateJob(ctx context.Context, ref string, upd dwp.JobUpdateRequest) (*job.Job, error) {
	upd.JobRef = jobRef(ref)
	var j job.Job
	if err := c.call(ctx, dwp.MethodJobUpdate, upd, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
