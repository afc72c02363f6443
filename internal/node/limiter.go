package node

// Limiter is a buffered-channel semaphore bounding how many in-flight
// upstream calls may hold a slot at once, used for the global and
// per-upstream concurrency limits. A nil/zero-capacity Limiter never
// blocks: 0 or unset means unlimited.
type Limiter chan struct{}

// NewLimiter builds a Limiter with the given capacity. capacity <= 0
// disables limiting.
func NewLimiter(capacity int) Limiter {
	if capacity <= 0 {
		return nil
	}
	return make(Limiter, capacity)
}

// Acquire blocks until a slot is available.
func (l Limiter) Acquire() {
	if l == nil {
		return
	}
	l <- struct{}{}
}

// Release returns a slot acquired by Acquire.
func (l Limiter) Release() {
	if l == nil {
		return
	}
	<-l
}
