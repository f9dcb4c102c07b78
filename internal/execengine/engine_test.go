package execengine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/HyphaGroup/cesvault/internal/controlproto"
	"github.com/HyphaGroup/cesvault/internal/interpreter"
	"github.com/HyphaGroup/cesvault/internal/sandbox"
	"github.com/HyphaGroup/cesvault/internal/streamhub"
)

// fakeLauncher and its scripted interpreter mirror internal/session's test
// double: a fully in-memory stand-in driven over the same stdio protocol a
// real adapter speaks, so the engine's demultiplexing is exercised without
// execing anything.
type fakeLauncher struct {
	script func(r io.Reader, w io.Writer)
}

func (f fakeLauncher) Kind() string { return "fake" }

func (f fakeLauncher) Launch(ctx context.Context, spec sandbox.Spec) (*sandbox.Process, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	exited := make(chan struct{})
	go func() {
		f.script(stdinR, stdoutW)
		close(exited)
	}()

	wait := func() (int, error) {
		<-exited
		return 0, nil
	}
	kill := func(ctx context.Context) error {
		_ = stdinW.Close()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil
	}
	return sandbox.NewProcess(99, stdinW, stdoutR, stderrR, wait, kill), nil
}

func startHandle(t *testing.T, script func(r io.Reader, w io.Writer)) *interpreter.Handle {
	t.Helper()
	h, err := interpreter.Start(context.Background(), fakeLauncher{script: script}, sandbox.Spec{SessionID: "s"}, time.Second)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func readDirective(scanner *bufio.Scanner) (controlproto.Directive, bool) {
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, controlproto.Sentinel) {
			var d controlproto.Directive
			_ = json.Unmarshal([]byte(strings.TrimPrefix(line, controlproto.Sentinel)), &d)
			return d, true
		}
	}
	return controlproto.Directive{}, false
}

func replyTo(w io.Writer, d controlproto.Directive, result map[string]interface{}) {
	reply := controlproto.Reply{ID: d.ID, OK: true, Result: result}
	b, _ := json.Marshal(reply)
	fmt.Fprintf(w, "%s%s\n", controlproto.Sentinel, b)
}

// scriptWithArtifacts answers one exec submission with stdout plus a
// terminal result, then on the post-exec directive emits a variables and
// an artifact OutputEvent before acknowledging — the adapter's documented
// "scan for artifacts" behavior, all ahead of the reply line so the engine
// must drain them off the queue after Send returns.
func scriptWithArtifacts(r io.Reader, w io.Writer) {
	fmt.Fprintf(w, `{"kind":"status","payload":{"state":"ready"}}`+"\n")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, controlproto.Sentinel):
			var d controlproto.Directive
			_ = json.Unmarshal([]byte(strings.TrimPrefix(line, controlproto.Sentinel)), &d)
			if d.Kind == controlproto.KindPostExec {
				fmt.Fprintf(w, `{"kind":"artifact","payload":{"logical_name":"out","mime_type":"text/plain","file_name":"out.txt"}}`+"\n")
			}
			replyTo(w, d, map[string]interface{}{})
		case strings.HasPrefix(line, "\x00ces-exec\x00"):
			fmt.Fprintf(w, `{"kind":"stdout","payload":"hi\n"}`+"\n")
			fmt.Fprintf(w, `{"kind":"result","payload":{"repr":"1"},"terminal":true}`+"\n")
		}
	}
}

func TestExecuteDrainsPostExecArtifactEvents(t *testing.T) {
	handle := startHandle(t, scriptWithArtifacts)
	hub := streamhub.NewHub(streamhub.DefaultRingSize, streamhub.DefaultSubscriberCapacity)
	sub, unsub := hub.Subscribe("watcher", -1)
	defer unsub()

	eng := New()
	postExec := func(ctx context.Context) (controlproto.Reply, error) {
		sendCtx, cancel := context.WithTimeout(ctx, controlproto.DefaultTimeout)
		defer cancel()
		return handle.Control().Send(sendCtx, controlproto.KindPostExec, map[string]interface{}{"execution_id": "e1"})
	}

	result, _, err := eng.Execute(context.Background(), handle, hub, "e1", "1", postExec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0].FileName != "out.txt" {
		t.Fatalf("expected the post-exec artifact to be accumulated, got %v", result.Artifacts)
	}

	var sawArtifact bool
	for i := 0; i < len(result.StdoutChunks)+len(result.Artifacts)+2; i++ {
		select {
		case ev := <-sub:
			if ev.Kind == streamhub.EventArtifact {
				sawArtifact = true
			}
		case <-time.After(100 * time.Millisecond):
		}
	}
	if !sawArtifact {
		t.Fatal("expected the artifact event to also be published to the stream hub, not just accumulated")
	}
}

func TestExecuteSequenceNumbersStayMonotonicAcrossPostExec(t *testing.T) {
	handle := startHandle(t, scriptWithArtifacts)
	hub := streamhub.NewHub(streamhub.DefaultRingSize, streamhub.DefaultSubscriberCapacity)
	sub, unsub := hub.Subscribe("watcher", -1)
	defer unsub()

	eng := New()
	postExec := func(ctx context.Context) (controlproto.Reply, error) {
		return handle.Control().Send(ctx, controlproto.KindPostExec, map[string]interface{}{"execution_id": "e1"})
	}
	if _, _, err := eng.Execute(context.Background(), handle, hub, "e1", "1", postExec); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub:
			if ev.SequenceNo <= last {
				t.Fatalf("expected strictly increasing sequence numbers, got %d after %d", ev.SequenceNo, last)
			}
			last = ev.SequenceNo
		case <-time.After(100 * time.Millisecond):
			t.Fatal("expected three published events (stdout, result, artifact)")
		}
	}
}

func scriptPeerGoneMidExecution(r io.Reader, w io.Writer) {
	fmt.Fprintf(w, `{"kind":"status","payload":{"state":"ready"}}`+"\n")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "\x00ces-exec\x00") {
			return // exits without ever emitting a terminal event
		}
	}
}

func TestExecutePeerGoneMidExecutionIsAResultNotAnError(t *testing.T) {
	handle := startHandle(t, scriptPeerGoneMidExecution)
	hub := streamhub.NewHub(streamhub.DefaultRingSize, streamhub.DefaultSubscriberCapacity)
	defer hub.Close()

	eng := New()
	result, _, err := eng.Execute(context.Background(), handle, hub, "e1", "1", nil)
	if err != nil {
		t.Fatalf("expected interpreter death mid-execution to surface as a result, got error: %v", err)
	}
	if result.Success {
		t.Fatal("expected Success=false when the interpreter exits mid-execution")
	}
}

func scriptNeverTerminates(r io.Reader, w io.Writer) {
	fmt.Fprintf(w, `{"kind":"status","payload":{"state":"ready"}}`+"\n")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "\x00ces-exec\x00") {
			fmt.Fprintf(w, `{"kind":"stdout","payload":"looping\n"}`+"\n")
			<-make(chan struct{}) // hang past the engine's timeout
		}
	}
}

func TestExecuteTimesOutAndReportsFailureAfterGrace(t *testing.T) {
	handle := startHandle(t, scriptNeverTerminates)
	hub := streamhub.NewHub(streamhub.DefaultRingSize, streamhub.DefaultSubscriberCapacity)
	defer hub.Close()

	eng := &Engine{Timeout: 20 * time.Millisecond, InterruptGrace: 20 * time.Millisecond}
	result, _, err := eng.Execute(context.Background(), handle, hub, "e1", "1", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected Success=false after a timeout with no terminal event observed")
	}
	if result.ErrorMessage == "" {
		t.Fatal("expected an error message describing the timeout")
	}
}
