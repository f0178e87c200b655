// Package autoscan runs one cooperative scheduler loop per engagement,
// selecting launchable tools, queueing them by check-item priority and
// dispatching them to bound workers.
package autoscan

import (
	"context"
	"fmt"
	"time"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/fleet"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

type entityProvider interface {
	Service() *entities.Service
}

type fleetProvider interface {
	Store() *fleet.FleetStore
}

// Module implements the autoscan core module.
type Module struct {
	logger    *zap.Logger
	scheduler *Scheduler
}

// New creates the autoscan module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "autoscan",
		Version:      "1.0.0",
		Description:  "Per-engagement scan scheduling and tool dispatch",
		Dependencies: []string{"entities", "fleet"},
		Roles:        []string{"scheduling"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	if err := deps.Store.Migrate(ctx, "autoscan", Migrations()); err != nil {
		return err
	}
	ent, ok := deps.Plugins.Resolve("entities")
	if !ok {
		return fmt.Errorf("entities module not available")
	}
	entProvider, ok := ent.(entityProvider)
	if !ok {
		return fmt.Errorf("entities module does not expose its service")
	}
	fl, ok := deps.Plugins.Resolve("fleet")
	if !ok {
		return fmt.Errorf("fleet module not available")
	}
	flProvider, ok := fl.(fleetProvider)
	if !ok {
		return fmt.Errorf("fleet module does not expose its store")
	}

	tick := deps.Config.GetDuration("tick_interval")
	if tick <= 0 {
		tick = 5 * time.Second
	}
	m.scheduler = NewScheduler(
		NewAutoscanStore(deps.Store.DB()),
		entProvider.Service(),
		flProvider.Store(),
		deps.Logger,
		tick,
	)

	m.logger.Info("autoscan module initialized", zap.Duration("tick_interval", tick))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	return m.scheduler.Resume(ctx)
}

func (m *Module) Stop(ctx context.Context) error {
	if m.scheduler != nil {
		m.scheduler.Shutdown()
	}
	return nil
}

// SetDispatcher wires the websocket hub. Called by the composition root
// before Start.
func (m *Module) SetDispatcher(d Dispatcher) {
	if m.scheduler != nil {
		m.scheduler.SetDispatcher(d)
	}
}

// Scheduler exposes the scheduler for sibling modules.
func (m *Module) Scheduler() *Scheduler {
	return m.scheduler
}
