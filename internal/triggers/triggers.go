// Package triggers turns entity trigger events into check-instances and
// ready tools, applying catalog check items to matching targets.
package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// entityProvider is the surface the entities module exposes to siblings.
type entityProvider interface {
	Service() *entities.Service
}

// Module implements the triggers core module.
type Module struct {
	logger      *zap.Logger
	engine      *Engine
	unsubscribe func()
}

// New creates the triggers module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "triggers",
		Version:      "1.0.0",
		Description:  "Check-instance materialization from trigger events",
		Dependencies: []string{"entities"},
		Required:     true,
		Roles:        []string{"scheduling"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	ent, ok := deps.Plugins.Resolve("entities")
	if !ok {
		return fmt.Errorf("entities module not available")
	}
	provider, ok := ent.(entityProvider)
	if !ok {
		return fmt.Errorf("entities module does not expose its service")
	}
	m.engine = NewEngine(provider.Service(), deps.Logger)
	m.unsubscribe = m.engine.Bind(deps.Bus)

	m.logger.Info("triggers module initialized")
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return nil
}

// Engine exposes the trigger engine for sibling modules.
func (m *Module) Engine() *Engine {
	return m.engine
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/{pentest}/apply", Handler: m.handleApplyAll},
		{Method: "POST", Path: "/{pentest}/apply/{check_iid}", Handler: m.handleApplyOne},
	}
}

func triggersWriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleApplyAll retroactively applies the whole catalog to an engagement.
func (m *Module) handleApplyAll(w http.ResponseWriter, r *http.Request) {
	pentest := r.PathValue("pentest")
	if err := m.engine.ApplyAll(r.Context(), pentest); err != nil {
		m.logger.Warn("retroactive apply failed", zap.String("pentest", pentest), zap.Error(err))
		triggersWriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "apply failed"})
		return
	}
	triggersWriteJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// handleApplyOne retroactively applies one check item to an engagement.
func (m *Module) handleApplyOne(w http.ResponseWriter, r *http.Request) {
	pentest := r.PathValue("pentest")
	item, err := m.engine.svc.Store().GetCheckItem(r.Context(), r.PathValue("check_iid"))
	if err != nil {
		triggersWriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if item == nil {
		triggersWriteJSON(w, http.StatusNotFound, map[string]string{"error": "check item not found"})
		return
	}
	if err := m.engine.ApplyCheckItem(r.Context(), pentest, item); err != nil {
		m.logger.Warn("retroactive apply failed",
			zap.String("pentest", pentest),
			zap.String("check_item", item.ID),
			zap.Error(err),
		)
		triggersWriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "apply failed"})
		return
	}
	triggersWriteJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
