// Package entities implements the persistent entity layer: engagements,
// waves, scopes, hosts, ports, the command and check catalog, defects,
// Active Directory records and tags. Writes fan out change notifications and
// trigger events on the bus.
package entities

import (
	"context"

	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
)

// Module implements the entities core module.
type Module struct {
	logger  *zap.Logger
	service *Service
}

// New creates the entities module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "entities",
		Version:     "1.0.0",
		Description: "Engagement data model, catalog and trigger emission",
		Required:    true,
		Roles:       []string{"persistence"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if err := deps.Store.Migrate(ctx, "entities", Migrations()); err != nil {
		return err
	}
	m.service = NewService(NewStore(deps.Store.DB()), deps.Bus, deps.Logger)
	m.logger.Info("entities module initialized")
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	return nil
}

// Service exposes the entity service for sibling modules wired through the
// composition root.
func (m *Module) Service() *Service {
	return m.service
}
