package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/HyphaGroup/cesvault/internal/cerrors"
	"github.com/HyphaGroup/cesvault/internal/metrics"
	"github.com/HyphaGroup/cesvault/internal/streamhub"
)

// sseEventName maps a Stream Hub event kind to the wire-level SSE event
// name: stdout/stderr/log/display/artifact/variables/status collapse to
// "output", result and error become "result", and the hub-close signal
// becomes "done".
func sseEventName(kind streamhub.EventKind) string {
	switch kind {
	case streamhub.EventResult, streamhub.EventError:
		return "result"
	default:
		return "output"
	}
}

// handleStream serves one execution's output as Server-Sent Events.
// Reconnects replay from sequence 0 by default; a Last-Event-ID header or
// a from query parameter resumes from that sequence number instead: after
// the Last-Event-ID event, or at the from event. Sequence numbers start at
// 1 and the hub indexes events from 0, so sequence number n sits at hub
// index n-1.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	execID := r.PathValue("exec_id")

	entry, err := s.mgr.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	fromIndex := int64(0)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			fromIndex = n
		}
	} else if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			fromIndex = n - 1
		}
	}

	subscriberID := fmt.Sprintf("sse-%s-%s", id, execID)
	events, unsubscribe, ok := entry.SubscribeExecution(execID, subscriberID, fromIndex)
	if !ok {
		writeError(w, cerrors.NotFound("no active or recent execution %s on session %s", execID, id))
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, cerrors.Internal(nil, "streaming not supported by this response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				fmt.Fprintf(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				metrics.RecordStreamDrop(id)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SequenceNo, sseEventName(ev.Kind), payload)
			flusher.Flush()
			if ev.Terminal {
				fmt.Fprintf(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
		}
	}
}
