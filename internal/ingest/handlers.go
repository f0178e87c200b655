package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/parsers", Handler: m.handleListParsers},
		{Method: "POST", Path: "/{pentest}/tools/{id}/status", Handler: m.handleSetStatus},
		{Method: "POST", Path: "/{pentest}/tools/{id}/done", Handler: m.handleMarkDone},
		{Method: "POST", Path: "/{pentest}/tools/{id}/result", Handler: m.handleImportResult},
	}
}

func ingestWriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ingestWriteError(w http.ResponseWriter, status int, msg string) {
	ingestWriteJSON(w, status, map[string]any{"error": msg})
}

func (m *Module) handleListParsers(w http.ResponseWriter, r *http.Request) {
	ingestWriteJSON(w, http.StatusOK, m.registry.Names())
}

type statusRequest struct {
	Status string `json:"status"`
	Worker string `json:"worker,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

func (m *Module) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ingestWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pentest := r.PathValue("pentest")
	toolID := r.PathValue("id")
	err := m.service.SetStatus(r.Context(), pentest, toolID, req.Status, req.Worker, req.Notes)
	if errors.Is(err, ErrToolNotFound) {
		ingestWriteError(w, http.StatusNotFound, "tool not found")
		return
	}
	if err != nil {
		ingestWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type markDoneRequest struct {
	ResultFile string `json:"resultfile,omitempty"`
}

func (m *Module) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	var req markDoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ingestWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pentest := r.PathValue("pentest")
	toolID := r.PathValue("id")
	err := m.service.MarkAsDone(r.Context(), pentest, toolID, req.ResultFile)
	if errors.Is(err, ErrToolNotFound) {
		ingestWriteError(w, http.StatusNotFound, "tool not found")
		return
	}
	if err != nil {
		ingestWriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportResult accepts a multipart upload with the result file and an
// optional parser hint, then runs the import pipeline.
func (m *Module) handleImportResult(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		ingestWriteError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		ingestWriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		ingestWriteError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	pentest := r.PathValue("pentest")
	toolID := r.PathValue("id")
	hint := r.FormValue("plugin")

	used, err := m.service.ImportResult(r.Context(), pentest, toolID, hint, header.Filename, data)
	if errors.Is(err, ErrToolNotFound) {
		ingestWriteError(w, http.StatusNotFound, "tool not found")
		return
	}
	if err != nil {
		m.logger.Warn("result import failed",
			zap.String("pentest", pentest),
			zap.String("tool", toolID),
			zap.Error(err),
		)
		ingestWriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"plugin": used,
		})
		return
	}
	ingestWriteJSON(w, http.StatusOK, map[string]any{"plugin": used})
}
