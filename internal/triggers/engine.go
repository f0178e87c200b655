package triggers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/pkg/models"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Engine materializes check-instances from trigger events. For every check
// item whose lvl matches the trigger (and whose pentest-type and port
// predicates pass) it creates one check-instance per target and one ready
// tool per item command.
type Engine struct {
	svc    *entities.Service
	logger *zap.Logger
}

// NewEngine wires an Engine against the entity service.
func NewEngine(svc *entities.Service, logger *zap.Logger) *Engine {
	return &Engine{svc: svc, logger: logger}
}

// Bind subscribes the engine to the bus. Trigger topics all carry an ":on"
// verb (wave:onAdd, AD:onNewDC, tag:onAdd:<name>); check-item saves arrive on
// their own topic and are applied retroactively. Returns the unsubscribe
// function.
func (e *Engine) Bind(bus plugin.EventBus) func() {
	return bus.SubscribeAll(func(ctx context.Context, ev plugin.Event) {
		switch {
		case ev.Topic == entities.TopicCheckItemSaved:
			payload, ok := ev.Payload.(entities.CheckItemSaved)
			if !ok {
				return
			}
			if err := e.ApplyCheckItemEverywhere(ctx, payload.ItemID); err != nil {
				e.logger.Warn("retroactive apply on save failed",
					zap.String("check_item", payload.ItemID),
					zap.Error(err),
				)
			}
		case strings.Contains(ev.Topic, ":on"):
			payload, ok := ev.Payload.(entities.TriggerEvent)
			if !ok {
				return
			}
			if err := e.HandleTrigger(ctx, payload); err != nil {
				e.logger.Warn("trigger handling failed",
					zap.String("trigger", payload.Trigger),
					zap.Error(err),
				)
			}
		}
	})
}

// lvlMatches reports whether a check item lvl reacts to a trigger. The
// lifecycle triggers wave:onAdd and ip:onAdd are declared as bare "wave" and
// "ip" lvls; every other trigger is declared verbatim. Items with lvl
// "import" are reserved for result-file ingestion and never trigger-matched.
func lvlMatches(lvl, trigger string) bool {
	if lvl == "import" {
		return false
	}
	switch trigger {
	case entities.TriggerWaveAdd:
		return lvl == "wave"
	case entities.TriggerIPAdd:
		return lvl == "ip"
	}
	return lvl == trigger
}

// HandleTrigger reacts to one trigger event. Tag triggers are additive in
// both directions: tag:onRemove:<name> materializes items declared for it the
// same way tag:onAdd:<name> does, and never touches instances other triggers
// created.
func (e *Engine) HandleTrigger(ctx context.Context, ev entities.TriggerEvent) error {
	settings, err := e.svc.Store().GetSettings(ctx, ev.Pentest)
	if err != nil {
		return err
	}
	items, err := e.svc.Store().ListCheckItems(ctx, "")
	if err != nil {
		return err
	}
	for _, item := range items {
		if !lvlMatches(item.Lvl, ev.Trigger) {
			continue
		}
		if !pentestTypeAllowed(item.PentestTypes, settings.PentestType) {
			continue
		}
		if err := e.materialize(ctx, ev.Pentest, &item, ev.TargetIID, ev.TargetType); err != nil {
			e.logger.Warn("check materialization failed",
				zap.String("check_item", item.ID),
				zap.String("trigger", ev.Trigger),
				zap.Error(err),
			)
		}
	}
	return nil
}

// materialize creates the check-instance for (item, target) and provisions
// its tools. Re-delivery is a no-op: the instance key is unique.
func (e *Engine) materialize(ctx context.Context, pentest string, item *models.CheckItem, targetIID, targetType string) error {
	store := e.svc.Store()

	tc, err := e.targetContext(ctx, pentest, targetIID, targetType)
	if err != nil {
		return err
	}
	if tc == nil {
		// Target vanished between the event and now.
		return nil
	}
	if targetType == "port" && !portPredicateMatches(item.Ports, tc.port) {
		return nil
	}

	ci := &models.CheckInstance{
		ID:         models.NewID(),
		Pentest:    pentest,
		CheckIID:   item.ID,
		TargetIID:  targetIID,
		TargetType: targetType,
	}
	ok, iid, err := store.InsertCheckInstance(ctx, ci)
	if err != nil {
		return err
	}
	if !ok {
		// Already materialized.
		return nil
	}

	oos, oot, err := e.initialFlags(ctx, pentest, tc)
	if err != nil {
		return err
	}

	for _, cmdID := range item.Commands {
		cmd, err := e.resolveCommand(ctx, pentest, cmdID)
		if err != nil {
			return err
		}
		if cmd == nil {
			e.logger.Warn("check item references unknown command",
				zap.String("check_item", item.ID),
				zap.String("command", cmdID),
			)
			continue
		}
		tool := &models.Tool{
			ID:        models.NewID(),
			Pentest:   pentest,
			Name:      cmd.Name,
			CommandID: cmd.ID,
			CheckIID:  iid,
			Lvl:       item.Lvl,
			Wave:      tc.wave,
			Scope:     tc.scope,
			IP:        tc.ip,
			Text:      entities.ResolveCommand(cmd.Text, tc.commandContext()),
			Status:    []string{models.StatusReady},
		}
		if tc.port != nil {
			tool.Port = tc.port.Port
			tool.Proto = tc.port.Proto
		}
		tool.SetFlag(models.StatusOutOfScope, oos)
		tool.SetFlag(models.StatusOutOfTime, oot)
		if err := store.InsertTool(ctx, tool); err != nil {
			return err
		}
	}
	return nil
}

// initialFlags computes the OOS/OOT state a new tool starts with, so a tool
// created for an out-of-scope host or outside every launch window is never
// briefly launchable.
func (e *Engine) initialFlags(ctx context.Context, pentest string, tc *targetContext) (oos, oot bool, err error) {
	if tc.ip != "" {
		h := tc.host
		if h == nil {
			h, err = e.svc.Store().GetHostByIP(ctx, pentest, tc.ip)
			if err != nil {
				return false, false, err
			}
		}
		if h != nil && !h.InScope() {
			oos = true
		}
	}
	var inTime bool
	if tc.wave != "" {
		inTime, err = e.svc.WaveInTime(ctx, pentest, tc.wave, e.svc.Now())
	} else {
		inTime, err = e.svc.AnyWaveInTime(ctx, pentest, e.svc.Now())
	}
	if err != nil {
		return false, false, err
	}
	return oos, !inTime, nil
}

// resolveCommand prefers the engagement's copy of a catalog command.
func (e *Engine) resolveCommand(ctx context.Context, pentest, cmdID string) (*models.Command, error) {
	store := e.svc.Store()
	if cp, err := store.GetCommandCopy(ctx, pentest, cmdID); err != nil || cp != nil {
		return cp, err
	}
	return store.GetCommand(ctx, cmdID)
}

// targetContext resolves the trigger target into the values a command
// template can reference.
type targetContext struct {
	wave  string
	scope string
	ip    string
	port  *models.Port
	host  *models.Host
	user  *models.User
}

func (tc *targetContext) commandContext() entities.CommandContext {
	return entities.CommandContext{
		Wave:  tc.wave,
		Scope: tc.scope,
		IP:    tc.ip,
		Port:  tc.port,
		Host:  tc.host,
		User:  tc.user,
	}
}

func (e *Engine) targetContext(ctx context.Context, pentest, targetIID, targetType string) (*targetContext, error) {
	store := e.svc.Store()
	switch targetType {
	case "wave":
		w, err := store.GetWave(ctx, pentest, targetIID)
		if err != nil || w == nil {
			return nil, err
		}
		return &targetContext{wave: w.Name}, nil
	case "ip":
		h, err := store.GetHost(ctx, pentest, targetIID)
		if err != nil || h == nil {
			return nil, err
		}
		return &targetContext{ip: h.IP, host: h}, nil
	case "port":
		p, err := store.GetPort(ctx, pentest, targetIID)
		if err != nil || p == nil {
			return nil, err
		}
		h, err := store.GetHostByIP(ctx, pentest, p.IP)
		if err != nil {
			return nil, err
		}
		return &targetContext{ip: p.IP, port: p, host: h}, nil
	case "computer":
		c, err := store.GetComputer(ctx, pentest, targetIID)
		if err != nil || c == nil {
			return nil, err
		}
		h, err := store.GetHostByIP(ctx, pentest, c.IP)
		if err != nil {
			return nil, err
		}
		return &targetContext{ip: c.IP, host: h}, nil
	case "user":
		u, err := store.GetUser(ctx, pentest, targetIID)
		if err != nil || u == nil {
			return nil, err
		}
		return &targetContext{user: u}, nil
	}
	return nil, fmt.Errorf("unknown target type %q", targetType)
}

// pentestTypeAllowed applies a check item's pentest-type filter. An empty
// filter admits every engagement.
func pentestTypeAllowed(types []string, pentestType string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if strings.EqualFold(t, pentestType) {
			return true
		}
	}
	return false
}

// portPredicateMatches evaluates a check item's Ports filter against a port.
// The filter is a comma list of proto/number, proto/service and
// proto/low-high terms; an empty filter matches every port. A term without a
// proto prefix defaults to tcp.
func portPredicateMatches(filter string, p *models.Port) bool {
	if filter == "" {
		return true
	}
	if p == nil {
		return false
	}
	for _, term := range strings.Split(filter, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		proto := "tcp"
		spec := term
		if i := strings.Index(term, "/"); i >= 0 {
			proto = term[:i]
			spec = term[i+1:]
		}
		if !strings.EqualFold(proto, p.Proto) {
			continue
		}
		if matchPortSpec(spec, p) {
			return true
		}
	}
	return false
}

func matchPortSpec(spec string, p *models.Port) bool {
	if lo, hi, ok := strings.Cut(spec, "-"); ok {
		loN, err1 := strconv.Atoi(lo)
		hiN, err2 := strconv.Atoi(hi)
		portN, err3 := strconv.Atoi(p.Port)
		if err1 != nil || err2 != nil || err3 != nil {
			return false
		}
		return portN >= loN && portN <= hiN
	}
	if _, err := strconv.Atoi(spec); err == nil {
		return spec == p.Port
	}
	return strings.EqualFold(spec, p.Service)
}
