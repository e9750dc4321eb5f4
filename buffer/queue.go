package buffer

import (
	"sync"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

type slot int

const (
	slotQueued slot = iota
	slotInFlight
	slotRunning
)

// jobQueue is the state of one job. known tracks every id the queue is
// responsible for, whether waiting, handed out, or running.
type jobQueue struct {
	jobID id.JobID

	mu       sync.Mutex
	threads  int
	priority []id.ExecutionID
	normal   []id.ExecutionID
	known    map[id.ExecutionID]slot

	refillMu sync.Mutex
	ready    chan struct{}
	wake     chan struct{}
	closed   chan struct{}
	once     sync.Once
	loopDone chan struct{}
}

func newJobQueue(jobID id.JobID, threads int) *jobQueue {
	return &jobQueue{
		jobID:    jobID,
		threads:  threads,
		known:    make(map[id.ExecutionID]slot),
		ready:    make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// size must be called with mu held.
func (q *jobQueue) size() int { return len(q.priority) + len(q.normal) }

func (q *jobQueue) add(execID id.ExecutionID, priority bool, maxSize int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isClosed() {
		return false
	}
	if _, ok := q.known[execID]; ok {
		return false
	}
	if q.size() >= maxSize {
		return false
	}

	if priority {
		q.priority = append(q.priority, execID)
	} else {
		q.normal = append(q.normal, execID)
	}
	q.known[execID] = slotQueued
	q.signal()
	return true
}

func (q *jobQueue) pop() (id.ExecutionID, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isClosed() {
		return id.Nil, false, ErrClosed
	}

	var execID id.ExecutionID
	switch {
	case len(q.priority) > 0:
		execID, q.priority = q.priority[0], q.priority[1:]
	case len(q.normal) > 0:
		execID, q.normal = q.normal[0], q.normal[1:]
	default:
		return id.Nil, false, nil
	}
	q.known[execID] = slotInFlight

	// Pass the wake-up on to the next waiting puller.
	if q.size() > 0 {
		q.signal()
	}
	// Below the low-water mark the refill loop may have work to do.
	q.trigger()
	return execID, true, nil
}

func (q *jobQueue) remove(execID id.ExecutionID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if s, ok := q.known[execID]; !ok || s != slotQueued {
		return
	}
	delete(q.known, execID)
	q.priority = without(q.priority, execID)
	q.normal = without(q.normal, execID)
}

func (q *jobQueue) markRunning(execID id.ExecutionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.known[execID] = slotRunning
}

func (q *jobQueue) done(execID id.ExecutionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.known[execID]; ok && s != slotQueued {
		delete(q.known, execID)
	}
}

func (q *jobQueue) snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Snapshot{
		JobID:    q.jobID,
		Threads:  q.threads,
		Priority: append([]id.ExecutionID{}, q.priority...),
		Normal:   append([]id.ExecutionID{}, q.normal...),
		Running:  []id.ExecutionID{},
	}
	for execID, st := range q.known {
		if st == slotRunning {
			s.Running = append(s.Running, execID)
		}
	}
	return s
}

func (q *jobQueue) close() {
	q.once.Do(func() {
		q.mu.Lock()
		close(q.closed)
		q.priority = nil
		q.normal = nil
		q.known = make(map[id.ExecutionID]slot)
		q.mu.Unlock()
	})
}

// isClosed must be called with mu held.
func (q *jobQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *jobQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *jobQueue) trigger() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func without(ids []id.ExecutionID, execID id.ExecutionID) []id.ExecutionID {
	for i, v := range ids {
		if v == execID {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
