package autoscan

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fbarre96/pollenisator/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/{pentest}/start", Handler: m.handleStart},
		{Method: "POST", Path: "/{pentest}/stop", Handler: m.handleStop},
		{Method: "GET", Path: "/{pentest}/status", Handler: m.handleStatus},
		{Method: "POST", Path: "/{pentest}/queue", Handler: m.handleQueue},
		{Method: "POST", Path: "/{pentest}/unqueue", Handler: m.handleUnqueue},
		{Method: "POST", Path: "/{pentest}/queue/clear", Handler: m.handleClearQueue},
		{Method: "POST", Path: "/{pentest}/tools/{id}/launch", Handler: m.handleLaunch},
		{Method: "POST", Path: "/{pentest}/tools/{id}/stop", Handler: m.handleStopTool},
	}
}

func autoscanWriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func autoscanWriteError(w http.ResponseWriter, status int, msg string) {
	autoscanWriteJSON(w, status, map[string]any{"error": msg})
}

type startRequest struct {
	Autoqueue   *bool    `json:"autoqueue,omitempty"` // defaults to true
	CommandIIDs []string `json:"command_iids"`
}

func (m *Module) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		autoscanWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	autoqueue := true
	if req.Autoqueue != nil {
		autoqueue = *req.Autoqueue
	}
	pentest := r.PathValue("pentest")
	if err := m.scheduler.Start(r.Context(), pentest, autoqueue, req.CommandIIDs); err != nil {
		autoscanWriteError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleStop(w http.ResponseWriter, r *http.Request) {
	pentest := r.PathValue("pentest")
	if err := m.scheduler.Stop(r.Context(), pentest); err != nil {
		autoscanWriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := m.scheduler.Status(r.Context(), r.PathValue("pentest"))
	if err != nil {
		autoscanWriteError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	autoscanWriteJSON(w, http.StatusOK, status)
}

type queueRequest struct {
	ToolIIDs []string `json:"tool_iids"`
}

func (m *Module) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ToolIIDs) == 0 {
		autoscanWriteError(w, http.StatusBadRequest, "tool_iids is required")
		return
	}
	err := m.scheduler.QueueTools(r.Context(), r.PathValue("pentest"), req.ToolIIDs)
	var nr *ErrNotRunnable
	if errors.As(err, &nr) {
		autoscanWriteError(w, nr.Code, nr.Reason)
		return
	}
	if err != nil {
		autoscanWriteError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleUnqueue(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ToolIIDs) == 0 {
		autoscanWriteError(w, http.StatusBadRequest, "tool_iids is required")
		return
	}
	if err := m.scheduler.UnqueueTools(r.Context(), r.PathValue("pentest"), req.ToolIIDs); err != nil {
		autoscanWriteError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := m.scheduler.ClearQueue(r.Context(), r.PathValue("pentest")); err != nil {
		autoscanWriteError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleLaunch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	err := m.scheduler.LaunchTool(r.Context(), r.PathValue("pentest"), r.PathValue("id"), force)
	var nr *ErrNotRunnable
	if errors.As(err, &nr) {
		autoscanWriteError(w, nr.Code, nr.Reason)
		return
	}
	if err != nil {
		autoscanWriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleStopTool(w http.ResponseWriter, r *http.Request) {
	err := m.scheduler.StopTool(r.Context(), r.PathValue("pentest"), r.PathValue("id"))
	var nr *ErrNotRunnable
	if errors.As(err, &nr) {
		autoscanWriteError(w, nr.Code, nr.Reason)
		return
	}
	if err != nil {
		autoscanWriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
