package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/fbarre96/pollenisator/pkg/models"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// Service orchestrates entity writes: persistence, change notifications,
// trigger events, and the cross-entity recomputations (scope membership,
// OOS/OOT flags) that follow a write.
type Service struct {
	store  *Store
	bus    plugin.EventBus
	logger *zap.Logger
	scopes *ScopeEvaluator
	now    func() time.Time
}

// NewService wires a Service. The bus may be nil in tests that do not
// observe events.
func NewService(store *Store, bus plugin.EventBus, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger,
		scopes: NewScopeEvaluator(),
		now:    time.Now,
	}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *Store {
	return s.store
}

// SetResolver overrides the DNS resolver used for scope evaluation.
func (s *Service) SetResolver(r Resolver) {
	s.scopes.Resolve = r
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the service's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// InsertResult is the outcome of an idempotent insert. Ok is false when the
// record already existed; IID then carries the existing record's id.
type InsertResult struct {
	Ok  bool   `json:"ok"`
	IID string `json:"iid"`
}

func (s *Service) notify(ctx context.Context, pentest, collection, iid, action string) {
	n := &models.Notification{
		ID:         models.NewID(),
		Pentest:    pentest,
		Collection: collection,
		IID:        iid,
		Action:     action,
		Time:       s.now(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		s.logger.Warn("notification not recorded", zap.Error(err))
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, plugin.Event{
			Topic:     TopicNotification,
			Source:    "entities",
			Timestamp: s.now(),
			Payload:   *n,
		})
	}
}

func (s *Service) fireTrigger(ctx context.Context, pentest, trigger, targetIID, targetType string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, plugin.Event{
		Topic:     trigger,
		Source:    "entities",
		Timestamp: s.now(),
		Payload: TriggerEvent{
			Pentest:    pentest,
			Trigger:    trigger,
			TargetIID:  targetIID,
			TargetType: targetType,
		},
	})
}

// -- Engagement lifecycle --

// RegisterEngagement creates an engagement with a default wave named after
// it, one interval covering [start, end], and the given settings. Returns
// Ok=false with the existing id when the name is taken.
func (s *Service) RegisterEngagement(ctx context.Context, name string, start, end time.Time, settings *models.Settings) (InsertResult, error) {
	e := &models.Engagement{
		ID:        models.NewID(),
		Name:      name,
		StartDate: start,
		EndDate:   end,
		CreatedAt: s.now(),
	}
	if settings != nil {
		e.Settings = *settings
	} else {
		e.Settings = models.DefaultSettings()
	}
	e.Pentesters = e.Settings.Pentesters

	ok, iid, err := s.store.InsertEngagement(ctx, e)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}

	// Every engagement starts with one wave carrying its name and one
	// interval spanning the engagement dates.
	if _, err := s.AddWave(ctx, &models.Wave{Pentest: name, Name: name}); err != nil {
		return InsertResult{}, fmt.Errorf("default wave: %w", err)
	}
	if !start.IsZero() && !end.IsZero() {
		iv := &models.Interval{
			Pentest: name,
			Wave:    name,
			Dated:   start.Format(models.IntervalTimeLayout),
			Datef:   end.Format(models.IntervalTimeLayout),
		}
		if err := s.AddInterval(ctx, iv); err != nil {
			return InsertResult{}, fmt.Errorf("default interval: %w", err)
		}
	}
	s.notify(ctx, name, "engagements", iid, "insert")
	return InsertResult{Ok: true, IID: iid}, nil
}

// DeleteEngagement removes an engagement and everything it contains.
func (s *Service) DeleteEngagement(ctx context.Context, name string) error {
	return s.store.DeleteEngagement(ctx, name)
}

// -- Waves, intervals, scopes --

// AddWave inserts a wave and fires the wave:onAdd trigger.
func (s *Service) AddWave(ctx context.Context, w *models.Wave) (InsertResult, error) {
	if w.ID == "" {
		w.ID = models.NewID()
	}
	ok, iid, err := s.store.InsertWave(ctx, w)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	s.notify(ctx, w.Pentest, "waves", iid, "insert")
	s.fireTrigger(ctx, w.Pentest, TriggerWaveAdd, iid, "wave")
	return InsertResult{Ok: true, IID: iid}, nil
}

// DeleteWave removes a wave with its intervals, scopes and tools.
func (s *Service) DeleteWave(ctx context.Context, pentest, id string) error {
	w, err := s.store.GetWave(ctx, pentest, id)
	if err != nil {
		return err
	}
	if w == nil {
		return nil
	}
	intervals, err := s.store.ListIntervals(ctx, pentest, w.Name)
	if err != nil {
		return err
	}
	for _, iv := range intervals {
		if err := s.store.DeleteInterval(ctx, pentest, iv.ID); err != nil {
			return err
		}
	}
	scopes, err := s.store.ListScopes(ctx, pentest, w.Name)
	if err != nil {
		return err
	}
	for _, sc := range scopes {
		if err := s.store.DeleteScope(ctx, pentest, sc.ID); err != nil {
			return err
		}
	}
	tools, err := s.store.ListTools(ctx, pentest, ToolFilter{Wave: w.Name})
	if err != nil {
		return err
	}
	for _, t := range tools {
		if err := s.store.DeleteTool(ctx, pentest, t.ID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteWave(ctx, pentest, id); err != nil {
		return err
	}
	if len(scopes) > 0 {
		if err := s.RecomputeScopes(ctx, pentest); err != nil {
			return err
		}
	}
	s.notify(ctx, pentest, "waves", id, "delete")
	return nil
}

// validateInterval rejects bounds that do not parse in the interval date
// layout, so a malformed interval never reaches the store or the launch
// window computation.
func validateInterval(iv *models.Interval) error {
	if _, err := time.Parse(models.IntervalTimeLayout, iv.Dated); err != nil {
		return fmt.Errorf("interval start %q: want layout %s", iv.Dated, models.IntervalTimeLayout)
	}
	if _, err := time.Parse(models.IntervalTimeLayout, iv.Datef); err != nil {
		return fmt.Errorf("interval end %q: want layout %s", iv.Datef, models.IntervalTimeLayout)
	}
	return nil
}

// AddInterval inserts an interval and refreshes the wave's OOT flags.
func (s *Service) AddInterval(ctx context.Context, iv *models.Interval) error {
	if err := validateInterval(iv); err != nil {
		return err
	}
	if iv.ID == "" {
		iv.ID = models.NewID()
	}
	if err := s.store.InsertInterval(ctx, iv); err != nil {
		return err
	}
	s.notify(ctx, iv.Pentest, "intervals", iv.ID, "insert")
	return s.RefreshTimeFlags(ctx, iv.Pentest, iv.Wave)
}

// UpdateInterval rewrites an interval's bounds and refreshes OOT flags.
func (s *Service) UpdateInterval(ctx context.Context, iv *models.Interval) error {
	if err := validateInterval(iv); err != nil {
		return err
	}
	if err := s.store.UpdateInterval(ctx, iv); err != nil {
		return err
	}
	s.notify(ctx, iv.Pentest, "intervals", iv.ID, "update")
	return s.RefreshTimeFlags(ctx, iv.Pentest, iv.Wave)
}

// DeleteInterval removes an interval and refreshes OOT flags.
func (s *Service) DeleteInterval(ctx context.Context, pentest, id string) error {
	iv, err := s.store.GetInterval(ctx, pentest, id)
	if err != nil {
		return err
	}
	if iv == nil {
		return nil
	}
	if err := s.store.DeleteInterval(ctx, pentest, id); err != nil {
		return err
	}
	s.notify(ctx, pentest, "intervals", id, "delete")
	return s.RefreshTimeFlags(ctx, pentest, iv.Wave)
}

// AddScope inserts a scope and recomputes scope membership for all hosts.
func (s *Service) AddScope(ctx context.Context, sc *models.Scope) (InsertResult, error) {
	if sc.ID == "" {
		sc.ID = models.NewID()
	}
	ok, iid, err := s.store.InsertScope(ctx, sc)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	s.notify(ctx, sc.Pentest, "scopes", iid, "insert")
	if err := s.RecomputeScopes(ctx, sc.Pentest); err != nil {
		return InsertResult{}, err
	}
	return InsertResult{Ok: true, IID: iid}, nil
}

// DeleteScope removes a scope and recomputes scope membership.
func (s *Service) DeleteScope(ctx context.Context, pentest, id string) error {
	if err := s.store.DeleteScope(ctx, pentest, id); err != nil {
		return err
	}
	s.notify(ctx, pentest, "scopes", id, "delete")
	return s.RecomputeScopes(ctx, pentest)
}

// RecomputeScopes re-evaluates InScopes for every host of the engagement,
// updates the OOS flag on each host's tools, and fires ip:onAdd for hosts
// that just entered scope.
func (s *Service) RecomputeScopes(ctx context.Context, pentest string) error {
	settings, err := s.store.GetSettings(ctx, pentest)
	if err != nil {
		return err
	}
	scopes, err := s.store.ListScopes(ctx, pentest, "")
	if err != nil {
		return err
	}
	hosts, err := s.store.ListHosts(ctx, pentest)
	if err != nil {
		return err
	}
	for i := range hosts {
		h := &hosts[i]
		wasIn := h.InScope()
		h.InScopes = s.scopes.InScopes(h.IP, scopes, settings)
		if err := s.store.UpdateHost(ctx, h); err != nil {
			return err
		}
		if err := s.refreshHostScopeFlags(ctx, h); err != nil {
			return err
		}
		if !wasIn && h.InScope() {
			s.fireTrigger(ctx, pentest, TriggerIPAdd, h.ID, "ip")
		}
	}
	return nil
}

// refreshHostScopeFlags sets or clears the OOS flag on the host's
// non-terminal tools.
func (s *Service) refreshHostScopeFlags(ctx context.Context, h *models.Host) error {
	tools, err := s.store.ListTools(ctx, h.Pentest, ToolFilter{IP: h.IP})
	if err != nil {
		return err
	}
	inScope := h.InScope()
	for i := range tools {
		t := &tools[i]
		if t.Terminal() {
			continue
		}
		if t.HasStatus(models.StatusOutOfScope) == !inScope {
			continue
		}
		t.SetFlag(models.StatusOutOfScope, !inScope)
		if err := s.store.UpdateTool(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// WaveInTime reports whether now falls inside any interval of the wave.
// Malformed interval bounds are skipped.
func (s *Service) WaveInTime(ctx context.Context, pentest, wave string, now time.Time) (bool, error) {
	intervals, err := s.store.ListIntervals(ctx, pentest, wave)
	if err != nil {
		return false, err
	}
	for _, iv := range intervals {
		start, err1 := time.Parse(models.IntervalTimeLayout, iv.Dated)
		end, err2 := time.Parse(models.IntervalTimeLayout, iv.Datef)
		if err1 != nil || err2 != nil {
			continue
		}
		if !now.Before(start) && !now.After(end) {
			return true, nil
		}
	}
	return false, nil
}

// AnyWaveInTime reports whether at least one wave of the engagement is
// currently inside an interval. Tools not bound to a wave (host, port and AD
// level checks) follow this rule.
func (s *Service) AnyWaveInTime(ctx context.Context, pentest string, now time.Time) (bool, error) {
	waves, err := s.store.ListWaves(ctx, pentest)
	if err != nil {
		return false, err
	}
	for _, w := range waves {
		in, err := s.WaveInTime(ctx, pentest, w.Name, now)
		if err != nil {
			return false, err
		}
		if in {
			return true, nil
		}
	}
	return false, nil
}

// RefreshTimeFlags sets or clears the OOT flag on the wave's non-terminal
// tools according to whether the wave is currently in time. Tools without a
// wave are refreshed too since the any-wave rule depends on every interval.
func (s *Service) RefreshTimeFlags(ctx context.Context, pentest, wave string) error {
	inTime, err := s.WaveInTime(ctx, pentest, wave, s.now())
	if err != nil {
		return err
	}
	if err := s.setTimeFlags(ctx, pentest, ToolFilter{Wave: wave}, inTime); err != nil {
		return err
	}
	anyIn, err := s.AnyWaveInTime(ctx, pentest, s.now())
	if err != nil {
		return err
	}
	return s.setTimeFlags(ctx, pentest, ToolFilter{NoWave: true}, anyIn)
}

func (s *Service) setTimeFlags(ctx context.Context, pentest string, f ToolFilter, inTime bool) error {
	tools, err := s.store.ListTools(ctx, pentest, f)
	if err != nil {
		return err
	}
	for i := range tools {
		t := &tools[i]
		if t.Terminal() {
			continue
		}
		if t.HasStatus(models.StatusOutOfTime) == !inTime {
			continue
		}
		t.SetFlag(models.StatusOutOfTime, !inTime)
		if err := s.store.UpdateTool(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// -- Hosts and ports --

// AddHost evaluates scope membership, inserts the host, and fires ip:onAdd
// when the host lands in scope.
func (s *Service) AddHost(ctx context.Context, h *models.Host) (InsertResult, error) {
	if h.ID == "" {
		h.ID = models.NewID()
	}
	settings, err := s.store.GetSettings(ctx, h.Pentest)
	if err != nil {
		return InsertResult{}, err
	}
	scopes, err := s.store.ListScopes(ctx, h.Pentest, "")
	if err != nil {
		return InsertResult{}, err
	}
	h.InScopes = s.scopes.InScopes(h.IP, scopes, settings)

	ok, iid, err := s.store.InsertHost(ctx, h)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	s.notify(ctx, h.Pentest, "ips", iid, "insert")
	if h.InScope() {
		s.fireTrigger(ctx, h.Pentest, TriggerIPAdd, iid, "ip")
	}
	return InsertResult{Ok: true, IID: iid}, nil
}

// DeleteHost removes a host with its ports, tools and check-instances.
func (s *Service) DeleteHost(ctx context.Context, pentest, id string) error {
	h, err := s.store.GetHost(ctx, pentest, id)
	if err != nil {
		return err
	}
	if h == nil {
		return nil
	}
	ports, err := s.store.ListPorts(ctx, pentest, h.IP)
	if err != nil {
		return err
	}
	for _, p := range ports {
		if err := s.DeletePort(ctx, pentest, p.ID); err != nil {
			return err
		}
	}
	if err := s.deleteTargetChecks(ctx, pentest, id, "ip"); err != nil {
		return err
	}
	tools, err := s.store.ListTools(ctx, pentest, ToolFilter{IP: h.IP})
	if err != nil {
		return err
	}
	for _, t := range tools {
		if err := s.store.DeleteTool(ctx, pentest, t.ID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteHost(ctx, pentest, id); err != nil {
		return err
	}
	s.notify(ctx, pentest, "ips", id, "delete")
	return nil
}

// AddPort inserts a port and fires port:onServiceUpdate when it carries a
// service.
func (s *Service) AddPort(ctx context.Context, p *models.Port) (InsertResult, error) {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	ok, iid, err := s.store.InsertPort(ctx, p)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	s.notify(ctx, p.Pentest, "ports", iid, "insert")
	if p.Service != "" {
		s.fireTrigger(ctx, p.Pentest, TriggerPortServiceUpdate, iid, "port")
	}
	if err := s.upsertComputerStub(ctx, p); err != nil {
		s.logger.Warn("computer stub not applied",
			zap.String("ip", p.IP), zap.String("port", p.Port), zap.Error(err))
	}
	return InsertResult{Ok: true, IID: iid}, nil
}

// upsertComputerStub records a Computer for ports that betray a Windows
// machine: 88 (kerberos, domain controller), 445 (smb), 1433 or service
// ms-sql (sql server). Existing computers only gain flags, never lose them.
func (s *Service) upsertComputerStub(ctx context.Context, p *models.Port) error {
	isDC := p.Port == "88"
	isSQL := p.Port == "1433" || p.Service == "ms-sql"
	if !isDC && !isSQL && p.Port != "445" {
		return nil
	}
	stub := &models.Computer{
		Pentest:     p.Pentest,
		IP:          p.IP,
		IsDC:        isDC,
		IsSQLServer: isSQL,
	}
	res, err := s.AddComputer(ctx, stub)
	if err != nil || res.Ok {
		return err
	}
	existing, err := s.store.GetComputer(ctx, p.Pentest, res.IID)
	if err != nil || existing == nil {
		return err
	}
	if (!isDC || existing.IsDC) && (!isSQL || existing.IsSQLServer) {
		return nil
	}
	existing.IsDC = existing.IsDC || isDC
	existing.IsSQLServer = existing.IsSQLServer || isSQL
	return s.UpdateComputer(ctx, existing)
}

// UpdatePort rewrites a port. When the service changed, service-triggered
// checks with no completed tool are discarded and the trigger fires again
// so the new service provisions fresh checks.
func (s *Service) UpdatePort(ctx context.Context, p *models.Port) error {
	old, err := s.store.GetPort(ctx, p.Pentest, p.ID)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("port %s not found", p.ID)
	}
	if err := s.store.UpdatePort(ctx, p); err != nil {
		return err
	}
	s.notify(ctx, p.Pentest, "ports", p.ID, "update")

	if old.Service == p.Service {
		return nil
	}
	if err := s.discardStaleServiceChecks(ctx, p.Pentest, p.ID); err != nil {
		return err
	}
	if p.Service != "" {
		s.fireTrigger(ctx, p.Pentest, TriggerPortServiceUpdate, p.ID, "port")
	}
	return nil
}

// discardStaleServiceChecks deletes port service check-instances whose tools
// have not produced a result yet. Checks with at least one done tool are
// preserved.
func (s *Service) discardStaleServiceChecks(ctx context.Context, pentest, portID string) error {
	instances, err := s.store.ListCheckInstances(ctx, pentest, portID, "port")
	if err != nil {
		return err
	}
	for _, ci := range instances {
		item, err := s.store.GetCheckItem(ctx, ci.CheckIID)
		if err != nil {
			return err
		}
		if item == nil || item.Lvl != TriggerPortServiceUpdate {
			continue
		}
		tools, err := s.store.ListToolsByCheckInstance(ctx, pentest, ci.ID)
		if err != nil {
			return err
		}
		anyDone := false
		for _, t := range tools {
			if t.PrimaryStatus() == models.StatusDone {
				anyDone = true
				break
			}
		}
		if anyDone {
			continue
		}
		for _, t := range tools {
			if err := s.store.DeleteTool(ctx, pentest, t.ID); err != nil {
				return err
			}
		}
		if err := s.store.DeleteCheckInstance(ctx, pentest, ci.ID); err != nil {
			return err
		}
		s.notify(ctx, pentest, "checkinstances", ci.ID, "delete")
	}
	return nil
}

// DeletePort removes a port with its checks and tools.
func (s *Service) DeletePort(ctx context.Context, pentest, id string) error {
	if err := s.deleteTargetChecks(ctx, pentest, id, "port"); err != nil {
		return err
	}
	if err := s.store.DeletePort(ctx, pentest, id); err != nil {
		return err
	}
	s.notify(ctx, pentest, "ports", id, "delete")
	return nil
}

// deleteTargetChecks removes the check-instances of one target and their
// tools.
func (s *Service) deleteTargetChecks(ctx context.Context, pentest, targetIID, targetType string) error {
	instances, err := s.store.ListCheckInstances(ctx, pentest, targetIID, targetType)
	if err != nil {
		return err
	}
	for _, ci := range instances {
		tools, err := s.store.ListToolsByCheckInstance(ctx, pentest, ci.ID)
		if err != nil {
			return err
		}
		for _, t := range tools {
			if err := s.store.DeleteTool(ctx, pentest, t.ID); err != nil {
				return err
			}
		}
		if err := s.store.DeleteCheckInstance(ctx, pentest, ci.ID); err != nil {
			return err
		}
	}
	return nil
}

// -- Tags --

// AddTag inserts a tag and fires tag:onAdd:<name>.
func (s *Service) AddTag(ctx context.Context, t *models.Tag) (InsertResult, error) {
	if t.ID == "" {
		t.ID = models.NewID()
	}
	ok, iid, err := s.store.InsertTag(ctx, t)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	// Re-applying a tag supersedes its recorded removal.
	if err := s.store.ClearTagRemoval(ctx, t); err != nil {
		return InsertResult{}, err
	}
	s.notify(ctx, t.Pentest, "tags", iid, "insert")
	s.fireTrigger(ctx, t.Pentest, TriggerTagAddPrefix+t.Name, t.ItemID, t.ItemType)
	return InsertResult{Ok: true, IID: iid}, nil
}

// RemoveTag deletes a tag and fires tag:onRemove:<name>.
func (s *Service) RemoveTag(ctx context.Context, pentest, id string) error {
	t, err := s.store.GetTag(ctx, pentest, id)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if err := s.store.DeleteTag(ctx, pentest, id); err != nil {
		return err
	}
	if err := s.store.RecordTagRemoval(ctx, t); err != nil {
		return err
	}
	s.notify(ctx, pentest, "tags", id, "delete")
	s.fireTrigger(ctx, pentest, TriggerTagRemovePrefix+t.Name, t.ItemID, t.ItemType)
	return nil
}

// -- Catalog --

func (s *Service) publishCheckItemSaved(ctx context.Context, itemID string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, plugin.Event{
		Topic:     TopicCheckItemSaved,
		Source:    "entities",
		Timestamp: s.now(),
		Payload:   CheckItemSaved{ItemID: itemID},
	})
}

// AddCheckItem inserts a catalog check item and announces the save, so the
// item gets applied to the targets every engagement already holds.
func (s *Service) AddCheckItem(ctx context.Context, ci *models.CheckItem) error {
	if ci.ID == "" {
		ci.ID = models.NewID()
	}
	if ci.MaxThread <= 0 {
		ci.MaxThread = 1
	}
	if err := s.store.InsertCheckItem(ctx, ci); err != nil {
		return err
	}
	s.publishCheckItemSaved(ctx, ci.ID)
	return nil
}

// UpdateCheckItem rewrites a catalog check item and announces the save.
func (s *Service) UpdateCheckItem(ctx context.Context, ci *models.CheckItem) error {
	if err := s.store.UpdateCheckItem(ctx, ci); err != nil {
		return err
	}
	s.publishCheckItemSaved(ctx, ci.ID)
	return nil
}

// DeleteCheckItem removes a catalog check item together with every
// check-instance it materialized, and their tools, across all engagements.
func (s *Service) DeleteCheckItem(ctx context.Context, id string) error {
	engagements, err := s.store.ListEngagements(ctx)
	if err != nil {
		return err
	}
	for _, eng := range engagements {
		instances, err := s.store.ListCheckInstancesByItem(ctx, eng.Name, id)
		if err != nil {
			return err
		}
		for _, ci := range instances {
			tools, err := s.store.ListToolsByCheckInstance(ctx, eng.Name, ci.ID)
			if err != nil {
				return err
			}
			for _, t := range tools {
				if err := s.store.DeleteTool(ctx, eng.Name, t.ID); err != nil {
					return err
				}
			}
			if err := s.store.DeleteCheckInstance(ctx, eng.Name, ci.ID); err != nil {
				return err
			}
		}
	}
	return s.store.DeleteCheckItem(ctx, id)
}

// DeleteCommand removes a catalog command, its engagement copies and every
// tool provisioned from any of them.
func (s *Service) DeleteCommand(ctx context.Context, id string) error {
	ids := []string{id}
	copies, err := s.store.ListCommandCopies(ctx, id)
	if err != nil {
		return err
	}
	for _, cp := range copies {
		ids = append(ids, cp.ID)
	}
	engagements, err := s.store.ListEngagements(ctx)
	if err != nil {
		return err
	}
	for _, eng := range engagements {
		for _, cmdID := range ids {
			tools, err := s.store.ListTools(ctx, eng.Name, ToolFilter{CommandID: cmdID})
			if err != nil {
				return err
			}
			for _, t := range tools {
				if err := s.store.DeleteTool(ctx, eng.Name, t.ID); err != nil {
					return err
				}
			}
		}
	}
	for _, cmdID := range ids {
		if err := s.store.DeleteCommand(ctx, cmdID); err != nil {
			return err
		}
	}
	return nil
}
