// Package fleet manages the worker registry: registration with a declared
// parser-plugin catalog, heartbeat tracking with a reaper loop, engagement
// binding and launch instructions.
package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/fbarre96/pollenisator/internal/entities"
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

// Module implements the fleet core module.
type Module struct {
	logger   *zap.Logger
	store    *FleetStore
	entities *entities.Service
	tokens   *TokenService
	sweeper  *sweeper
}

// New creates the fleet module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "fleet",
		Version:      "1.0.0",
		Description:  "Worker registry, heartbeats and launch instructions",
		Dependencies: []string{"entities"},
		Roles:        []string{"execution"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	if err := deps.Store.Migrate(ctx, "fleet", Migrations()); err != nil {
		return err
	}
	ent, ok := deps.Plugins.Resolve("entities")
	if !ok {
		return fmt.Errorf("entities module not available")
	}
	provider, ok := ent.(entityProvider)
	if !ok {
		return fmt.Errorf("entities module does not expose its service")
	}
	m.entities = provider.Service()
	m.store = NewFleetStore(deps.Store.DB())

	secret := deps.Config.GetString("token_secret")
	if secret == "" {
		return fmt.Errorf("modules.fleet.token_secret is required")
	}
	m.tokens = NewTokenService([]byte(secret), deps.Config.GetDuration("token_ttl"))

	interval := deps.Config.GetDuration("sweep_interval")
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m.sweeper = newSweeper(m.store, m.entities, deps.Logger, interval)

	m.logger.Info("fleet module initialized",
		zap.Duration("sweep_interval", interval))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	go m.sweeper.run()
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.sweeper != nil {
		m.sweeper.shutdown()
	}
	return nil
}

// SetSocketDropper wires the websocket hub so reaped workers lose their
// connection. Called by the composition root before Start.
func (m *Module) SetSocketDropper(d SocketDropper) {
	if m.sweeper != nil {
		m.sweeper.dropper = d
	}
}

// Store exposes the worker registry for sibling modules.
func (m *Module) Store() *FleetStore {
	return m.store
}

// Tokens exposes the token service for the websocket handshake.
func (m *Module) Tokens() *TokenService {
	return m.tokens
}
