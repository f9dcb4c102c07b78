package session

import "context"

// job is one unit of serialized work queued against a Session.
type job struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// serializer is the single-consumer task that gives every Session a strict
// FIFO ordering over its operations without a global lock and without
// re-entrant locking risk. It is the queue-based generalization of the
// teacher's per-session mutex (SessionLockMap): instead of callers taking
// and releasing a lock around their own critical section, they hand a
// closure to the serializer's one worker goroutine, which runs closures
// one at a time for as long as the Session lives.
type serializer struct {
	queue chan job
	stop  chan struct{}
}

func newSerializer() *serializer {
	s := &serializer{
		queue: make(chan job, 64),
		stop:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *serializer) run() {
	for {
		select {
		case j := <-s.queue:
			j.fn(context.Background())
			close(j.done)
		case <-s.stop:
			return
		}
	}
}

// Do enqueues fn and blocks until it has run or ctx is done first. If ctx
// is done before fn runs, fn is still queued (it may run later) but Do
// returns ctx.Err() immediately so the caller's suspension point respects
// its deadline, per the concurrency model's requirement that waiting for
// the serializer is itself a deadline-respecting suspension point.
func (s *serializer) Do(ctx context.Context, fn func(ctx context.Context)) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case s.queue <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the serializer's worker. Any jobs still queued are dropped.
func (s *serializer) Close() {
	close(s.stop)
}
