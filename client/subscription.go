package client

import (
	"context"
	"fmt"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/dwp"
	"github.com/coodoo-workhorse/workhorse-sub001/stream"
)

// Subscribe subscribes to a stream topic and returns a channel of events.
// The channel is closed when the client is closed or Unsubscribe is called.
//
// Topics follow the stream convention:
//   - "execution:<executionID>"  events of one execution
//   - "job:<jobID>"              execution and schedule events of one job
//   - "executions"               all execution events
//   - "firehose"                 everything
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *stream.Event, error) {
	if err := stream.ValidateTopic(channel); err != nil {
		return nil, err
	}

	// Register locally first so no event that follows the response is lost.
	c.subsMu.Lock()
	ch, exists := c.subs[channel]
	if !exists {
		ch = make(chan *stream.Event, 64)
		c.subs[channel] = ch
	}
	c.subsMu.Unlock()

	if _, err := c.request(ctx, dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: channel}); err != nil {
		if !exists {
			c.dropSubscription(channel)
		}
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}
	return ch, nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.request(ctx, dwp.MethodUnsubscribe, dwp.UnsubscribeRequest{Channel: channel})

	// Close and remove the local channel regardless.
	c.dropSubscription(channel)
	return err
}

func (c *Client) dropSubscription(channel string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if ch, ok := c.subs[channel]; ok {
		close(ch)
		delete(c.subs, channel)
	}
}

// WatchExecution subscribes to the events of one execution.
func (c *Client) WatchExecution(ctx context.Context, execID string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.ExecutionTopic(execID))
}

// WatchJob subscribes to the execution and schedule events of one job.
func (c *Client) WatchJob(ctx context.Context, jobID string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.JobTopic(jobID))
}

// Stats retrieves engine, broker and connection statistics.
func (c *Client) Stats(ctx context.Context) (*dwp.StatsResponse, error) {
	var stats dwp.StatsResponse
	if err := c.call(ctx, dwp.MethodStats, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// NextScheduledTimes returns the next n fire times of a cron expression
// after from, evaluated by the server.
func (c *Client) NextScheduledTimes(ctx context.Context, expr string, n int, from time.Time) ([]time.Time, error) {
	var resp dwp.ScheduleResponse
	err := c.call(ctx, dwp.MethodScheduleNext, dwp.ScheduleNextRequest{Expr: expr, Count: n, From: &from}, &resp)
	return resp.Times, err
}

// ScheduledTimesBetween returns the fire times of a cron expression in
// (start, end].
func (c *Client) ScheduledTimesBetween(ctx context.Context, expr string, start, end time.Time) ([]time.Time, error) {
	var resp dwp.ScheduleResponse
	err := c.call(ctx, dwp.MethodScheduleBetween, dwp.ScheduleBetweenRequest{Expr: expr, Start: start, End: end}, &resp)
	return resp.Times, err
}
