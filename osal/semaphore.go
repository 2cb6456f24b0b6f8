package osal

import "golang.org/x/sync/semaphore"

// NewCountingSemaphore builds the reference Semaphore backed by
// golang.org/x/sync/semaphore.Weighted, initialized with count units
// already available to Pend.
//
// This is the concrete OS Abstraction Contract implementation the
// endpoint I/O engine uses to bound the number of URBs in flight across
// all endpoints; the per-endpoint queues are guarded by a sync.Mutex.
func NewCountingSemaphore(count int64) Semaphore {
	return NewSemaphore(semaphore.NewWeighted(count))
}
