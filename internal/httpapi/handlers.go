package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/HyphaGroup/cesvault/internal/cerrors"
	"github.com/HyphaGroup/cesvault/internal/session"
	"github.com/HyphaGroup/cesvault/internal/validation"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, summary := range s.mgr.List("") {
		if summary.Status == session.StatusRunning {
			active++
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Version:        s.version,
		ActiveSessions: active,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := session.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: s.mgr.List(filter)})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := bindAndValidate(r, createSessionSchema, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID != "" {
		if err := validation.ValidateSessionID(req.SessionID); err != nil {
			writeError(w, cerrors.BadRequest("invalid session_id: %v", err))
			return
		}
	}

	entry, err := s.mgr.Create(r.Context(), session.CreateOptions{
		SessionID:   req.SessionID,
		CwdPath:     req.CwdPath,
		SandboxKind: session.SandboxKind(req.SandboxKind),
		Env:         req.Env,
		InitConfig:  req.InitConfig,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	entry, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadExtension(w http.ResponseWriter, r *http.Request) {
	entry, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req loadExtensionRequest
	if err := bindAndValidate(r, loadExtensionSchema, &req); err != nil {
		writeError(w, err)
		return
	}

	ext := session.Extension{Name: req.Name, SourceCode: req.Source, Config: req.Config}
	if err := entry.LoadExtension(r.Context(), ext); err != nil {
		writeError(w, err)
		return
	}
	if loadErr, failed := entry.ExtensionError(req.Name); failed {
		writeError(w, cerrors.BadRequest("extension %s failed to load: %s", req.Name, loadErr))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": req.Name, "loaded": true})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.mgr.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req executeRequest
	if err := bindAndValidate(r, executeSchema, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validation.ValidateExecutionID(req.ExecID); err != nil {
		writeError(w, cerrors.BadRequest("invalid exec_id: %v", err))
		return
	}

	hub, err := entry.PrepareExecution(req.ExecID)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Stream {
		go func() {
			// Detached from the request context: the execution must run to
			// completion (and its terminal event reach the Stream Hub) even
			// after the client that kicked it off has disconnected.
			_, _ = entry.Execute(context.Background(), req.ExecID, req.Code, hub)
		}()
		writeJSON(w, http.StatusAccepted, executeAcceptedResponse{
			ExecID:    req.ExecID,
			StreamURL: fmt.Sprintf("/api/v1/sessions/%s/execute/%s/stream", id, req.ExecID),
		})
		return
	}

	result, err := entry.Execute(r.Context(), req.ExecID, req.Code, hub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	entry, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	stats, ok := entry.StreamStats(r.PathValue("exec_id"))
	if !ok {
		writeError(w, cerrors.NotFound("no active or recent execution %s", r.PathValue("exec_id")))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUpdateVariables(w http.ResponseWriter, r *http.Request) {
	entry, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateVariablesRequest
	if err := bindAndValidate(r, updateVariablesSchema, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := entry.UpdateVariables(r.Context(), req.Bindings); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	entry, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req uploadFileRequest
	if err := bindAndValidate(r, uploadFileSchema, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validation.ValidateArtifactFileName(req.Filename); err != nil {
		writeError(w, cerrors.BadRequest("invalid filename: %v", err))
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeError(w, cerrors.BadRequest("content_base64 is not valid base64: %v", err))
		return
	}

	cwd := entry.Snapshot().CwdPath
	dest := filepath.Join(cwd, req.Filename)
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		writeError(w, cerrors.Internal(err, "writing uploaded file"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"filename": req.Filename, "bytes": len(content)})
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	entry, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	file := r.PathValue("file")
	if err := validation.ValidateArtifactFileName(file); err != nil {
		writeError(w, cerrors.BadRequest("invalid artifact filename: %v", err))
		return
	}

	cwd := entry.Snapshot().CwdPath
	path := filepath.Join(cwd, file)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, cerrors.NotFound("artifact %s not found", file))
			return
		}
		writeError(w, cerrors.Internal(err, "reading artifact"))
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
