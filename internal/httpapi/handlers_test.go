package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HyphaGroup/cesvault/internal/auth"
	"github.com/HyphaGroup/cesvault/internal/controlproto"
	"github.com/HyphaGroup/cesvault/internal/sandbox"
	"github.com/HyphaGroup/cesvault/internal/session"
)

// fakeLauncher runs an in-memory fake interpreter, mirroring
// internal/session's own test double so these tests never exec a real
// process.
type fakeLauncher struct{}

func (fakeLauncher) Kind() string { return "fake" }

func (fakeLauncher) Launch(ctx context.Context, spec sandbox.Spec) (*sandbox.Process, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	exited := make(chan struct{})
	go runFakeInterpreter(stdinR, stdoutW)

	wait := func() (int, error) {
		<-exited
		return 0, nil
	}
	kill := func(ctx context.Context) error {
		_ = stdinW.Close()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		select {
		case <-exited:
		default:
			close(exited)
		}
		return nil
	}
	return sandbox.NewProcess(4242, stdinW, stdoutR, stderrR, wait, kill), nil
}

func runFakeInterpreter(r io.Reader, w io.Writer) {
	fmt.Fprintf(w, `{"kind":"status","payload":{"state":"ready"}}`+"\n")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, controlproto.Sentinel):
			var d controlproto.Directive
			_ = json.Unmarshal([]byte(strings.TrimPrefix(line, controlproto.Sentinel)), &d)
			reply := controlproto.Reply{ID: d.ID, OK: true, Result: map[string]interface{}{}}
			if d.Kind == controlproto.KindPostExec {
				reply.Result["variables"] = map[string]interface{}{"answer": "int"}
			}
			b, _ := json.Marshal(reply)
			fmt.Fprintf(w, "%s%s\n", controlproto.Sentinel, b)
		case strings.HasPrefix(line, "\x00ces-exec\x00"):
			fmt.Fprintf(w, `{"kind":"stdout","payload":"hello\n"}`+"\n")
			fmt.Fprintf(w, `{"kind":"result","payload":{"repr":"4"},"terminal":true}`+"\n")
		}
	}
}

func testServer(t *testing.T, authCfg auth.Config) *Server {
	t.Helper()
	mgr, err := session.NewManager(session.ManagerConfig{
		BaseDir:            t.TempDir(),
		Launcher:           fakeLauncher{},
		InterpreterCommand: []string{"fake-interpreter"},
		StartupTimeout:     2 * time.Second,
		IdleTimeout:        time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return New(mgr, Config{Auth: authCfg, Version: "test"})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, auth.Config{})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestCreateGetDeleteSession(t *testing.T) {
	s := testServer(t, auth.Config{})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sessions", createSessionRequest{SessionID: "sess-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/sessions", createSessionRequest{SessionID: "sess-1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate id, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sessions/sess-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/sessions/sess-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sessions/sess-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateSessionRejectsBadSchema(t *testing.T) {
	s := testServer(t, auth.Config{})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"sandbox_kind": "not-a-real-kind",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteSyncReturnsResult(t *testing.T) {
	s := testServer(t, auth.Config{})
	h := s.Handler()

	doJSON(t, h, http.MethodPost, "/api/v1/sessions", createSessionRequest{SessionID: "exec-sess"})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sessions/exec-sess/execute", executeRequest{
		ExecID: "exec-1",
		Code:   "1+3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Resubmitting the same exec_id must be rejected as a duplicate.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/sessions/exec-sess/execute", executeRequest{
		ExecID: "exec-1",
		Code:   "1+3",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on reused exec_id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteStreamReturnsAccepted(t *testing.T) {
	s := testServer(t, auth.Config{})
	h := s.Handler()

	doJSON(t, h, http.MethodPost, "/api/v1/sessions", createSessionRequest{SessionID: "stream-sess"})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sessions/stream-sess/execute", executeRequest{
		ExecID: "exec-1",
		Code:   "1+3",
		Stream: true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp executeAcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.StreamURL == "" || resp.ExecID != "exec-1" {
		t.Fatalf("unexpected accepted response: %+v", resp)
	}
}

func TestUploadFileRejectsPathTraversal(t *testing.T) {
	s := testServer(t, auth.Config{})
	h := s.Handler()

	doJSON(t, h, http.MethodPost, "/api/v1/sessions", createSessionRequest{SessionID: "upload-sess"})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sessions/upload-sess/files", uploadFileRequest{
		Filename:      "../../etc/passwd",
		ContentBase64: "aGVsbG8=",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for path traversal, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDownloadArtifactNotFound(t *testing.T) {
	s := testServer(t, auth.Config{})
	h := s.Handler()

	doJSON(t, h, http.MethodPost, "/api/v1/sessions", createSessionRequest{SessionID: "artifact-sess"})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/sessions/artifact-sess/artifacts/missing.txt", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRejectsMissingKey(t *testing.T) {
	s := testServer(t, auth.Config{APIKey: "secret"})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/sessions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthAcceptsMatchingKey(t *testing.T) {
	s := testServer(t, auth.Config{APIKey: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
