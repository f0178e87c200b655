package entities

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fbarre96/pollenisator/pkg/models"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/engagements", Handler: m.handleRegisterEngagement},
		{Method: "GET", Path: "/engagements", Handler: m.handleListEngagements},
		{Method: "DELETE", Path: "/engagements/{name}", Handler: m.handleDeleteEngagement},
		{Method: "GET", Path: "/engagements/{name}/settings", Handler: m.handleGetSettings},
		{Method: "PUT", Path: "/engagements/{name}/settings", Handler: m.handleUpdateSettings},
		{Method: "GET", Path: "/engagements/{name}/notifications", Handler: m.handleListNotifications},

		{Method: "POST", Path: "/{pentest}/defects/{id}/move", Handler: m.handleMoveDefect},

		{Method: "GET", Path: "/{pentest}/{collection}", Handler: m.handleList},
		{Method: "POST", Path: "/{pentest}/{collection}", Handler: m.handleInsert},
		{Method: "POST", Path: "/{pentest}/{collection}/bulk", Handler: m.handleBulkInsert},
		{Method: "GET", Path: "/{pentest}/{collection}/count", Handler: m.handleCount},
		{Method: "GET", Path: "/{pentest}/{collection}/{id}", Handler: m.handleGet},
		{Method: "PUT", Path: "/{pentest}/{collection}/{id}", Handler: m.handleUpdate},
		{Method: "DELETE", Path: "/{pentest}/{collection}/{id}", Handler: m.handleDelete},
	}
}

func entitiesWriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func entitiesWriteError(w http.ResponseWriter, status int, msg string) {
	entitiesWriteJSON(w, status, map[string]any{"error": msg})
}

type registerEngagementRequest struct {
	Name      string           `json:"name"`
	StartDate time.Time        `json:"start_date"`
	EndDate   time.Time        `json:"end_date"`
	Settings  *models.Settings `json:"settings,omitempty"`
}

func (m *Module) handleRegisterEngagement(w http.ResponseWriter, r *http.Request) {
	var req registerEngagementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		entitiesWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		entitiesWriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	res, err := m.service.RegisterEngagement(r.Context(), req.Name, req.StartDate, req.EndDate, req.Settings)
	if err != nil {
		m.logger.Warn("engagement registration failed", zap.String("name", req.Name), zap.Error(err))
		entitiesWriteError(w, http.StatusInternalServerError, "failed to register engagement")
		return
	}
	status := http.StatusCreated
	if !res.Ok {
		status = http.StatusOK
	}
	entitiesWriteJSON(w, status, res)
}

func (m *Module) handleListEngagements(w http.ResponseWriter, r *http.Request) {
	list, err := m.service.Store().ListEngagements(r.Context())
	if err != nil {
		m.logger.Warn("failed to list engagements", zap.Error(err))
		entitiesWriteError(w, http.StatusInternalServerError, "failed to list engagements")
		return
	}
	if list == nil {
		list = []models.Engagement{}
	}
	entitiesWriteJSON(w, http.StatusOK, list)
}

func (m *Module) handleDeleteEngagement(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := m.service.DeleteEngagement(r.Context(), name); err != nil {
		m.logger.Warn("failed to delete engagement", zap.String("name", name), zap.Error(err))
		entitiesWriteError(w, http.StatusInternalServerError, "failed to delete engagement")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := m.service.Store().GetSettings(r.Context(), r.PathValue("name"))
	if err != nil {
		entitiesWriteError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	entitiesWriteJSON(w, http.StatusOK, settings)
}

func (m *Module) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		entitiesWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := r.PathValue("name")
	if err := m.service.Store().UpdateSettings(r.Context(), name, settings); err != nil {
		entitiesWriteError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	// Scope membership depends on the domain-inclusion settings.
	if err := m.service.RecomputeScopes(r.Context(), name); err != nil {
		m.logger.Warn("scope recompute after settings change failed",
			zap.String("pentest", name), zap.Error(err))
	}
	entitiesWriteJSON(w, http.StatusOK, settings)
}

func (m *Module) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			entitiesWriteError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}
	list, err := m.service.Store().ListNotifications(r.Context(), r.PathValue("name"), since)
	if err != nil {
		entitiesWriteError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	entitiesWriteJSON(w, http.StatusOK, list)
}

func (m *Module) handleMoveDefect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		entitiesWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := m.service.MoveDefect(r.Context(), r.PathValue("pentest"), r.PathValue("id"), req.Index)
	if err != nil {
		entitiesWriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleList(w http.ResponseWriter, r *http.Request) {
	result, err := m.service.List(r.Context(), r.PathValue("pentest"), r.PathValue("collection"), r.URL.Query())
	if err != nil {
		writeCollectionError(w, m.logger, err, "list")
		return
	}
	entitiesWriteJSON(w, http.StatusOK, result)
}

func (m *Module) handleInsert(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		entitiesWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := m.service.Insert(r.Context(), r.PathValue("pentest"), r.PathValue("collection"), raw)
	if err != nil {
		writeCollectionError(w, m.logger, err, "insert")
		return
	}
	status := http.StatusCreated
	if !res.Ok {
		status = http.StatusOK
	}
	entitiesWriteJSON(w, status, res)
}

func (m *Module) handleBulkInsert(w http.ResponseWriter, r *http.Request) {
	var docs []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		entitiesWriteError(w, http.StatusBadRequest, "request body must be a JSON array")
		return
	}
	report, err := m.service.BulkInsert(r.Context(), r.PathValue("pentest"), r.PathValue("collection"), docs)
	if err != nil {
		writeCollectionError(w, m.logger, err, "bulk insert")
		return
	}
	entitiesWriteJSON(w, http.StatusOK, report)
}

func (m *Module) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := m.service.Count(r.Context(), r.PathValue("pentest"), r.PathValue("collection"), r.URL.Query())
	if err != nil {
		writeCollectionError(w, m.logger, err, "count")
		return
	}
	entitiesWriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (m *Module) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := m.service.Get(r.Context(), r.PathValue("pentest"), r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		writeCollectionError(w, m.logger, err, "get")
		return
	}
	if doc == nil {
		entitiesWriteError(w, http.StatusNotFound, "document not found")
		return
	}
	entitiesWriteJSON(w, http.StatusOK, doc)
}

func (m *Module) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		entitiesWriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := m.service.Update(r.Context(), r.PathValue("pentest"), r.PathValue("collection"), r.PathValue("id"), raw)
	if err != nil {
		writeCollectionError(w, m.logger, err, "update")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := m.service.Delete(r.Context(), r.PathValue("pentest"), r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		writeCollectionError(w, m.logger, err, "delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCollectionError(w http.ResponseWriter, logger *zap.Logger, err error, op string) {
	var unknown ErrUnknownCollection
	if errors.As(err, &unknown) {
		entitiesWriteError(w, http.StatusNotFound, unknown.Error())
		return
	}
	logger.Warn("collection operation failed", zap.String("op", op), zap.Error(err))
	entitiesWriteError(w, http.StatusInternalServerError, "operation failed")
}
