package httpserver

import (
	"sync"
	"time"

	"github.com/gridware/genai-gateway/internal/rag"
)

// statusRetention is how long finished request statuses stay queryable.
const statusRetention = 5 * time.Minute

type outcome struct {
	res *rag.Result
	err error
}

type requestStatus struct {
	Status    string
	UpdatedAt time.Time
}

// waiterRegistry connects query handlers to worker completions and keeps a
// short-lived status record per request for the status endpoint.
type waiterRegistry struct {
	mu       sync.Mutex
	waiters  map[string]chan outcome
	statuses map[string]requestStatus
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{
		waiters:  make(map[string]chan outcome),
		statuses: make(map[string]requestStatus),
	}
}

// register creates the waiter channel for a freshly admitted request.
func (r *waiterRegistry) register(requestID string) <-chan outcome {
	ch := make(chan outcome, 1)
	r.mu.Lock()
	r.waiters[requestID] = ch
	r.setStatusLocked(requestID, "queued")
	r.prune()
	r.mu.Unlock()
	return ch
}

// resolve hands the outcome to a registered waiter. Results for requests
// nobody waits on (handler timed out, instance restarted) only update the
// status record.
func (r *waiterRegistry) resolve(requestID string, res *rag.Result, err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	}

	r.mu.Lock()
	ch, ok := r.waiters[requestID]
	delete(r.waiters, requestID)
	r.setStatusLocked(requestID, status)
	r.mu.Unlock()

	if ok {
		ch <- outcome{res: res, err: err}
	}
}

// abandon drops the waiter after a handler timeout; the eventual worker
// result still lands in the status map.
func (r *waiterRegistry) abandon(requestID string) {
	r.mu.Lock()
	delete(r.waiters, requestID)
	r.mu.Unlock()
}

// status returns the current lifecycle state for a request.
func (r *waiterRegistry) status(requestID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[requestID]
	if !ok {
		return "", false
	}
	return st.Status, true
}

// setStatusLocked records a lifecycle transition. Caller holds r.mu.
func (r *waiterRegistry) setStatusLocked(requestID, status string) {
	r.statuses[requestID] = requestStatus{Status: status, UpdatedAt: time.Now()}
}

// prune drops stale status records. Caller holds r.mu.
func (r *waiterRegistry) prune() {
	cutoff := time.Now().Add(-statusRetention)
	for id, st := range r.statuses {
		if st.UpdatedAt.Before(cutoff) {
			delete(r.statuses, id)
		}
	}
}
