package httpapi

import "github.com/HyphaGroup/cesvault/internal/session"

// createSessionRequest is the body of POST /api/v1/sessions.
type createSessionRequest struct {
	SessionID   string                 `json:"session_id,omitempty"`
	CwdPath     string                 `json:"cwd_path,omitempty"`
	SandboxKind string                 `json:"sandbox_kind,omitempty"`
	Env         map[string]string      `json:"env,omitempty"`
	InitConfig  map[string]interface{} `json:"init_config,omitempty"`
}

// loadExtensionRequest is the body of POST /api/v1/sessions/{id}/plugins.
type loadExtensionRequest struct {
	Name   string                 `json:"name"`
	Source string                 `json:"source"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// executeRequest is the body of POST /api/v1/sessions/{id}/execute.
type executeRequest struct {
	ExecID string `json:"exec_id"`
	Code   string `json:"code"`
	Stream bool   `json:"stream,omitempty"`
}

// updateVariablesRequest is the body of POST /api/v1/sessions/{id}/variables.
type updateVariablesRequest struct {
	Bindings map[string]interface{} `json:"bindings"`
}

// uploadFileRequest is the body of POST /api/v1/sessions/{id}/files.
type uploadFileRequest struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

// executeAcceptedResponse is returned when a streamed execution is kicked
// off asynchronously.
type executeAcceptedResponse struct {
	ExecID    string `json:"exec_id"`
	StreamURL string `json:"stream_url"`
}

// listSessionsResponse is the body of GET /api/v1/sessions.
type listSessionsResponse struct {
	Sessions []session.Summary `json:"sessions"`
}
