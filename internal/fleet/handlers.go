package fleet

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fbarre96/pollenisator/pkg/models"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/register", Handler: m.handleRegister},
		{Method: "GET", Path: "/workers", Handler: m.handleListWorkers},
		{Method: "POST", Path: "/workers/{name}/heartbeat", Handler: m.handleHeartbeat},
		{Method: "DELETE", Path: "/workers/{name}", Handler: m.handleUnregister},
		{Method: "POST", Path: "/workers/{name}/bind", Handler: m.handleBind},
		{Method: "GET", Path: "/workers/{name}/instructions", Handler: m.handleInstructions},
	}
}

func fleetWriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fleetWriteError(w http.ResponseWriter, status int, msg string) {
	fleetWriteJSON(w, status, map[string]any{"error": msg})
}

type registerRequest struct {
	Name             string   `json:"name,omitempty"` // optional, generated when empty
	SupportedPlugins []string `json:"supported_plugins"`
}

type registerResponse struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// newWorkerName builds a host-qualified worker name.
func newWorkerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s@%s", uuid.NewString(), host)
}

func (m *Module) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fleetWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := req.Name
	if name == "" {
		name = newWorkerName()
	}
	worker := &models.Worker{
		Name:             name,
		SupportedPlugins: req.SupportedPlugins,
		LastHeartbeat:    time.Now(),
	}
	if err := m.store.UpsertWorker(r.Context(), worker); err != nil {
		m.logger.Warn("worker registration failed", zap.String("worker", name), zap.Error(err))
		fleetWriteError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	token, err := m.tokens.Issue(name)
	if err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	m.logger.Info("worker registered",
		zap.String("worker", name),
		zap.Int("plugins", len(req.SupportedPlugins)),
	)
	fleetWriteJSON(w, http.StatusCreated, registerResponse{Name: name, Token: token})
}

func (m *Module) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := m.store.ListWorkers(r.Context())
	if err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}
	if workers == nil {
		workers = []models.Worker{}
	}
	fleetWriteJSON(w, http.StatusOK, workers)
}

func (m *Module) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ok, err := m.store.Heartbeat(r.Context(), name, time.Now())
	if err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "heartbeat failed")
		return
	}
	if !ok {
		// Unknown worker: it was reaped or never registered. A 404 tells
		// the worker to re-register.
		fleetWriteError(w, http.StatusNotFound, "worker not registered")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleUnregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	worker, err := m.store.GetWorker(r.Context(), name)
	if err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if worker != nil {
		// Running tools go back to the pool, same as a reap.
		for _, rt := range worker.RunningTools {
			if err := m.sweeper.resetTool(r.Context(), rt); err != nil {
				m.logger.Warn("tool reset on unregister failed",
					zap.String("tool", rt.ToolID), zap.Error(err))
			}
		}
	}
	if err := m.store.DeleteWorker(r.Context(), name); err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "unregister failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bindRequest struct {
	Pentest string `json:"pentest"` // empty unbinds
}

func (m *Module) handleBind(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fleetWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := r.PathValue("name")
	worker, err := m.store.GetWorker(r.Context(), name)
	if err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if worker == nil {
		fleetWriteError(w, http.StatusNotFound, "worker not registered")
		return
	}
	if req.Pentest != "" {
		e, err := m.entities.Store().GetEngagement(r.Context(), req.Pentest)
		if err != nil {
			fleetWriteError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if e == nil {
			fleetWriteError(w, http.StatusNotFound, "engagement not found")
			return
		}
	}
	if err := m.store.SetPentest(r.Context(), name, req.Pentest); err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "bind failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInstructions returns the tools currently assigned to the worker that
// it has not finished. Workers poll this as a fallback when the websocket
// channel drops a message.
func (m *Module) handleInstructions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	worker, err := m.store.GetWorker(r.Context(), name)
	if err != nil {
		fleetWriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if worker == nil {
		fleetWriteError(w, http.StatusNotFound, "worker not registered")
		return
	}
	instructions := []models.Tool{}
	for _, rt := range worker.RunningTools {
		tool, err := m.entities.Store().GetTool(r.Context(), rt.Pentest, rt.ToolID)
		if err != nil {
			fleetWriteError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if tool != nil && !tool.Terminal() {
			instructions = append(instructions, *tool)
		}
	}
	fleetWriteJSON(w, http.StatusOK, instructions)
}
