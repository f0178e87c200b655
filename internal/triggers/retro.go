package triggers

import (
	"context"
	"strings"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/pkg/models"
)

// Retroactive application: when a check item enters the catalog after
// targets already exist, the engine walks the current state instead of
// waiting for future trigger events. State-transition triggers (the AD
// "first user" family) are applied against the current state, so a DC that
// already has users gets its first-user checks exactly once.

// ApplyCheckItem materializes one check item against every existing matching
// target of the engagement.
func (e *Engine) ApplyCheckItem(ctx context.Context, pentest string, item *models.CheckItem) error {
	settings, err := e.svc.Store().GetSettings(ctx, pentest)
	if err != nil {
		return err
	}
	if !pentestTypeAllowed(item.PentestTypes, settings.PentestType) {
		return nil
	}
	targets, err := e.existingTargets(ctx, pentest, item.Lvl)
	if err != nil {
		return err
	}
	for _, tgt := range targets {
		if err := e.materialize(ctx, pentest, item, tgt.iid, tgt.kind); err != nil {
			return err
		}
	}
	return nil
}

// ApplyCheckItemEverywhere applies a saved check item against every
// engagement's existing targets, as if each target's trigger had just fired.
func (e *Engine) ApplyCheckItemEverywhere(ctx context.Context, itemID string) error {
	item, err := e.svc.Store().GetCheckItem(ctx, itemID)
	if err != nil || item == nil {
		return err
	}
	if item.Lvl == "import" {
		return nil
	}
	engagements, err := e.svc.Store().ListEngagements(ctx)
	if err != nil {
		return err
	}
	for _, eng := range engagements {
		if err := e.ApplyCheckItem(ctx, eng.Name, item); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll runs every catalog check item against the engagement's existing
// targets.
func (e *Engine) ApplyAll(ctx context.Context, pentest string) error {
	items, err := e.svc.Store().ListCheckItems(ctx, "")
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].Lvl == "import" {
			continue
		}
		if err := e.ApplyCheckItem(ctx, pentest, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

type target struct {
	iid  string
	kind string
}

// existingTargets enumerates the current records a check item lvl applies
// to.
func (e *Engine) existingTargets(ctx context.Context, pentest, lvl string) ([]target, error) {
	store := e.svc.Store()
	switch {
	case lvl == "wave":
		waves, err := store.ListWaves(ctx, pentest)
		if err != nil {
			return nil, err
		}
		out := make([]target, 0, len(waves))
		for _, w := range waves {
			out = append(out, target{w.ID, "wave"})
		}
		return out, nil

	case lvl == "ip":
		hosts, err := store.ListHosts(ctx, pentest)
		if err != nil {
			return nil, err
		}
		var out []target
		for i := range hosts {
			if hosts[i].InScope() {
				out = append(out, target{hosts[i].ID, "ip"})
			}
		}
		return out, nil

	case lvl == entities.TriggerPortServiceUpdate:
		ports, err := store.ListPorts(ctx, pentest, "")
		if err != nil {
			return nil, err
		}
		var out []target
		for _, p := range ports {
			if p.Service != "" {
				out = append(out, target{p.ID, "port"})
			}
		}
		return out, nil

	case strings.HasPrefix(lvl, entities.TriggerTagAddPrefix):
		name := strings.TrimPrefix(lvl, entities.TriggerTagAddPrefix)
		tags, err := store.ListTags(ctx, pentest, "", "")
		if err != nil {
			return nil, err
		}
		var out []target
		for _, t := range tags {
			if t.Name == name {
				out = append(out, target{t.ItemID, t.ItemType})
			}
		}
		return out, nil

	case strings.HasPrefix(lvl, entities.TriggerTagRemovePrefix):
		// Removals are ledgered when the tag comes off, so an item saved
		// later still finds its targets. A re-applied tag clears the entry.
		name := strings.TrimPrefix(lvl, entities.TriggerTagRemovePrefix)
		removals, err := store.ListTagRemovals(ctx, pentest, name)
		if err != nil {
			return nil, err
		}
		var out []target
		for _, t := range removals {
			out = append(out, target{t.ItemID, t.ItemType})
		}
		return out, nil

	case strings.HasPrefix(lvl, "AD:"):
		return e.existingADTargets(ctx, pentest, lvl)
	}
	return nil, nil
}

func (e *Engine) existingADTargets(ctx context.Context, pentest, lvl string) ([]target, error) {
	store := e.svc.Store()
	var out []target
	switch lvl {
	case entities.TriggerNewDC, entities.TriggerNewSQLServer,
		entities.TriggerFirstUserOnDC, entities.TriggerFirstAdminOnDC,
		entities.TriggerFirstUserOnSQLServer, entities.TriggerFirstAdminOnSQLServer,
		entities.TriggerFirstUserOnComputer, entities.TriggerFirstAdminOnComputer,
		entities.TriggerNewDomainDiscovered:
		computers, err := store.ListComputers(ctx, pentest, "")
		if err != nil {
			return nil, err
		}
		seenDomains := map[string]bool{}
		for i := range computers {
			c := &computers[i]
			switch lvl {
			case entities.TriggerNewDC:
				if c.IsDC {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerNewSQLServer:
				if c.IsSQLServer {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerFirstUserOnDC:
				if c.IsDC && len(c.Users) > 0 {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerFirstAdminOnDC:
				if c.IsDC && len(c.Admins) > 0 {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerFirstUserOnSQLServer:
				if c.IsSQLServer && len(c.Users) > 0 {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerFirstAdminOnSQLServer:
				if c.IsSQLServer && len(c.Admins) > 0 {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerFirstUserOnComputer:
				if len(c.Users) > 0 {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerFirstAdminOnComputer:
				if len(c.Admins) > 0 {
					out = append(out, target{c.ID, "computer"})
				}
			case entities.TriggerNewDomainDiscovered:
				if c.Domain != "" && !seenDomains[c.Domain] {
					seenDomains[c.Domain] = true
					out = append(out, target{c.ID, "computer"})
				}
			}
		}
		return out, nil

	case entities.TriggerNewUserFound, entities.TriggerNewValidUser:
		users, err := store.ListUsers(ctx, pentest, "")
		if err != nil {
			return nil, err
		}
		for i := range users {
			if lvl == entities.TriggerNewValidUser && users[i].Password == "" {
				continue
			}
			out = append(out, target{users[i].ID, "user"})
		}
		return out, nil
	}
	// The "new user/admin on ..." variants describe increments, not states;
	// there is nothing to apply retroactively.
	return nil, nil
}
