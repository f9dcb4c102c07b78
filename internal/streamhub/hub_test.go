package streamhub

import "testing"

func TestHubPublishFansOutToSubscribers(t *testing.T) {
	h := NewHub(16, 4)
	ch, unsub := h.Subscribe("live", -1)
	defer unsub()

	h.Publish(OutputEvent{Kind: EventStdout, Payload: "hi", SequenceNo: 1})

	select {
	case ev := <-ch:
		if ev.Payload != "hi" {
			t.Fatalf("unexpected payload: %v", ev.Payload)
		}
	default:
		t.Fatal("expected the live subscriber to observe the published event")
	}
}

func TestHubSubscribeReplaysRingForLateJoiner(t *testing.T) {
	h := NewHub(16, 4)
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "one", SequenceNo: 1})
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "two", SequenceNo: 2})

	ch, unsub := h.Subscribe("late", -1)
	defer unsub()

	first := <-ch
	second := <-ch
	if first.Payload != "one" || second.Payload != "two" {
		t.Fatalf("expected replay in order, got %v then %v", first.Payload, second.Payload)
	}
}

func TestHubSubscribeFromIndexSkipsEarlierEvents(t *testing.T) {
	h := NewHub(16, 4)
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "one", SequenceNo: 1})
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "two", SequenceNo: 2})
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "three", SequenceNo: 3})

	ch, unsub := h.Subscribe("resumer", 1)
	defer unsub()

	ev := <-ch
	if ev.Payload != "two" {
		t.Fatalf("expected replay to start at index 1 (\"two\"), got %v", ev.Payload)
	}
}

func TestHubCloseTerminatesLiveSubscribers(t *testing.T) {
	h := NewHub(16, 4)
	ch, _ := h.Subscribe("live", -1)

	h.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed once the hub closes")
	}
	// Close is idempotent.
	h.Close()
}

// TestHubSubscribeAfterCloseStillDeliversReplayThenDone guards the
// round-trip law that subscribing to an execution after it has already
// completed returns the full event stream followed by end-of-stream,
// rather than hanging forever because the subscriber joined after Close
// already ran.
func TestHubSubscribeAfterCloseStillDeliversReplayThenDone(t *testing.T) {
	h := NewHub(16, 4)
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "one", SequenceNo: 1})
	h.Publish(OutputEvent{Kind: EventResult, Payload: "done", SequenceNo: 2, Terminal: true})
	h.Close()

	ch, unsub := h.Subscribe("late", -1)
	defer unsub()

	ev, ok := <-ch
	if !ok {
		t.Fatal("expected the replayed event before end-of-stream")
	}
	if ev.Payload != "one" {
		t.Fatalf("unexpected first replayed event: %v", ev.Payload)
	}
	ev, ok = <-ch
	if !ok {
		t.Fatal("expected the second replayed event before end-of-stream")
	}
	if ev.Payload != "done" {
		t.Fatalf("unexpected second replayed event: %v", ev.Payload)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to close once replay is exhausted for a late subscriber")
	}
}

func TestHubSlowSubscriberDropIsolatedFromOthers(t *testing.T) {
	h := NewHub(16, 1)
	slow, unsubSlow := h.Subscribe("slow", -1)
	defer unsubSlow()
	fast, unsubFast := h.Subscribe("fast", -1)
	defer unsubFast()

	h.Publish(OutputEvent{Kind: EventStdout, Payload: "a", SequenceNo: 1})
	<-fast
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "b", SequenceNo: 2})

	stats := h.Stats()
	if stats.SubscriberLag["slow"] == 0 {
		t.Fatal("expected the slow subscriber's queue to be occupied")
	}

	second := <-fast
	if second.Payload != "b" {
		t.Fatalf("expected the fast subscriber to see both events, got %v", second.Payload)
	}

	// The slow subscriber's first queued event is still there; its second
	// publish was dropped for it alone rather than blocking Publish.
	ev := <-slow
	if ev.Payload != "a" {
		t.Fatalf("expected slow subscriber's retained event to be \"a\", got %v", ev.Payload)
	}
}

func TestHubStatsReportsRingOccupancyAndDropped(t *testing.T) {
	h := NewHub(2, 4)
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "a", SequenceNo: 1})
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "b", SequenceNo: 2})
	h.Publish(OutputEvent{Kind: EventStdout, Payload: "c", SequenceNo: 3})

	stats := h.Stats()
	if stats.Len != 2 {
		t.Fatalf("expected ring size 2 to cap occupancy at 2, got %d", stats.Len)
	}
	if stats.Dropped != 1 {
		t.Fatalf("expected one event purged from the ring, got %d", stats.Dropped)
	}
}
