// Package ingest receives worker status events and result files, parses
// results through the parser catalog and feeds discovered targets back into
// the entity layer.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/fleet"
	"github.com/fbarre96/pollenisator/internal/parsers"
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

// Module implements the ingest core module.
type Module struct {
	logger   *zap.Logger
	service  *Service
	registry *parsers.Registry
}

// New creates the ingest module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "ingest",
		Version:      "1.0.0",
		Description:  "Tool status events, result parsing and target re-entry",
		Dependencies: []string{"entities", "fleet"},
		Roles:        []string{"ingest"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

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

	resultsDir := deps.Config.GetString("results_dir")
	if resultsDir == "" {
		resultsDir = filepath.Join(os.TempDir(), "pollenisator-results")
	}

	m.registry = parsers.NewDefaultRegistry()
	m.service = NewService(entProvider.Service(), flProvider.Store(), m.registry, resultsDir, deps.Logger)

	m.logger.Info("ingest module initialized",
		zap.String("results_dir", resultsDir),
		zap.Strings("parsers", m.registry.Names()),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error { return nil }

func (m *Module) Stop(ctx context.Context) error { return nil }

// Service exposes the ingest pipeline for sibling modules.
func (m *Module) Service() *Service {
	return m.service
}

// Registry exposes the parser catalog.
func (m *Module) Registry() *parsers.Registry {
	return m.registry
}
