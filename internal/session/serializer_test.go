package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSerializerOrdersJobsFIFO(t *testing.T) {
	s := newSerializer()
	defer s.Close()

	var order []int
	var mu atomicAppender
	for i := 0; i < 20; i++ {
		i := i
		if err := s.Do(context.Background(), func(ctx context.Context) {
			mu.append(&order, i)
		}); err != nil {
			t.Fatalf("Do returned error: %v", err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("job %d ran out of order, order=%v", i, order)
		}
	}
}

func TestSerializerRespectsDeadline(t *testing.T) {
	s := newSerializer()
	defer s.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go s.Do(context.Background(), func(ctx context.Context) {
		close(started)
		<-block
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Do(ctx, func(ctx context.Context) {})
	if err == nil {
		t.Fatal("expected deadline error while serializer is busy")
	}
	close(block)
}

// atomicAppender appends to a slice and counts the appends atomically. It
// does not lock the slice: the serializer runs one job at a time and each
// Do call in the tests returns only after its job has run, so the appends
// never overlap.
type atomicAppender struct {
	n int32
}

func (a *atomicAppender) append(order *[]int, v int) {
	atomic.AddInt32(&a.n, 1)
	*order = append(*order, v)
}
