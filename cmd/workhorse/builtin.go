package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// builtinWorkers are linked into the daemon so a fresh install has jobs
// to exercise the queue with.
var builtinWorkers = map[string]job.WorkFunc{
	"echo":  echoWork,
	"sleep": sleepWork,
}

// echoWork reports its parameters as the summary.
func echoWork(_ context.Context, params []byte) (string, error) {
	return string(params), nil
}

type sleepParams struct {
	Duration string `json:"duration"`
}

// sleepWork waits for {"duration": "..."} or until cancelled.
func sleepWork(ctx context.Context, params []byte) (string, error) {
	var p sleepParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return "", fmt.Errorf("sleep parameters: %w", err)
		}
	}
	d := time.Second
	if p.Duration != "" {
		var err error
		if d, err = time.ParseDuration(p.Duration); err != nil {
			return "", fmt.Errorf("sleep duration: %w", err)
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return "slept " + d.String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
