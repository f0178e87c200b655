package entities

import (
	"context"
	"testing"
	"time"

	"github.com/fbarre96/pollenisator/pkg/models"
)

func TestRegisterEngagement_CreatesDefaults(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "acme-q2")

	w, err := svc.Store().GetWaveByName(ctx, "acme-q2", "acme-q2")
	if err != nil {
		t.Fatalf("GetWaveByName: %v", err)
	}
	if w == nil {
		t.Fatal("default wave not created")
	}
	intervals, err := svc.Store().ListIntervals(ctx, "acme-q2", "acme-q2")
	if err != nil {
		t.Fatalf("ListIntervals: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1", len(intervals))
	}
	if rec.countTopic(TriggerWaveAdd) != 1 {
		t.Errorf("wave:onAdd fired %d times, want 1", rec.countTopic(TriggerWaveAdd))
	}
}

func TestRegisterEngagement_Idempotent(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "acme-q2")

	res, err := svc.RegisterEngagement(ctx, "acme-q2", time.Time{}, time.Time{}, nil)
	if err != nil {
		t.Fatalf("second RegisterEngagement: %v", err)
	}
	if res.Ok {
		t.Error("second registration reported Ok=true, want Ok=false with existing iid")
	}
	if res.IID == "" {
		t.Error("second registration returned empty iid")
	}
}

func TestAddHost_FiresIPAddOnlyInScope(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	if _, err := svc.AddScope(ctx, &models.Scope{Pentest: "pt", Wave: "pt", Scope: "10.0.0.0/24"}); err != nil {
		t.Fatalf("AddScope: %v", err)
	}

	in, err := svc.AddHost(ctx, &models.Host{Pentest: "pt", IP: "10.0.0.5"})
	if err != nil {
		t.Fatalf("AddHost in scope: %v", err)
	}
	out, err := svc.AddHost(ctx, &models.Host{Pentest: "pt", IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("AddHost out of scope: %v", err)
	}
	if !in.Ok || !out.Ok {
		t.Fatal("both inserts should succeed")
	}
	if n := rec.countTopic(TriggerIPAdd); n != 1 {
		t.Errorf("ip:onAdd fired %d times, want 1 (in-scope host only)", n)
	}

	h, err := svc.Store().GetHost(ctx, "pt", out.IID)
	if err != nil {
		t.Fatalf("GetHost: %v", err)
	}
	if h.InScope() {
		t.Error("out-of-scope host reports InScope true")
	}
}

func TestAddHost_Idempotent(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	first, err := svc.AddHost(ctx, &models.Host{Pentest: "pt", IP: "10.1.1.1"})
	if err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	second, err := svc.AddHost(ctx, &models.Host{Pentest: "pt", IP: "10.1.1.1"})
	if err != nil {
		t.Fatalf("AddHost duplicate: %v", err)
	}
	if second.Ok {
		t.Error("duplicate host insert reported Ok=true")
	}
	if second.IID != first.IID {
		t.Errorf("duplicate insert returned iid %s, want existing %s", second.IID, first.IID)
	}
}

func TestAddScope_BringsHostsIntoScope(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	res, err := svc.AddHost(ctx, &models.Host{Pentest: "pt", IP: "10.0.0.7"})
	if err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if n := rec.countTopic(TriggerIPAdd); n != 0 {
		t.Fatalf("ip:onAdd fired before any scope exists (%d times)", n)
	}

	if _, err := svc.AddScope(ctx, &models.Scope{Pentest: "pt", Wave: "pt", Scope: "10.0.0.0/24"}); err != nil {
		t.Fatalf("AddScope: %v", err)
	}
	if n := rec.countTopic(TriggerIPAdd); n != 1 {
		t.Errorf("ip:onAdd fired %d times after scope add, want 1", n)
	}
	h, _ := svc.Store().GetHost(ctx, "pt", res.IID)
	if !h.InScope() {
		t.Error("host not marked in scope after matching scope added")
	}
}

func TestDeleteScope_SetsOOSFlag(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	sc, err := svc.AddScope(ctx, &models.Scope{Pentest: "pt", Wave: "pt", Scope: "10.0.0.0/24"})
	if err != nil {
		t.Fatalf("AddScope: %v", err)
	}
	if _, err := svc.AddHost(ctx, &models.Host{Pentest: "pt", IP: "10.0.0.7"}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	tool := &models.Tool{
		ID: models.NewID(), Pentest: "pt", Name: "scan", Wave: "pt",
		IP: "10.0.0.7", Status: []string{models.StatusReady},
	}
	if err := svc.Store().InsertTool(ctx, tool); err != nil {
		t.Fatalf("InsertTool: %v", err)
	}

	if err := svc.DeleteScope(ctx, "pt", sc.IID); err != nil {
		t.Fatalf("DeleteScope: %v", err)
	}
	got, err := svc.Store().GetTool(ctx, "pt", tool.ID)
	if err != nil {
		t.Fatalf("GetTool: %v", err)
	}
	if !got.HasStatus(models.StatusOutOfScope) {
		t.Errorf("tool status %v missing OOS after scope removal", got.Status)
	}
	if got.PrimaryStatus() != models.StatusReady {
		t.Errorf("primary status changed to %q, want ready", got.PrimaryStatus())
	}
}

func TestWaveInTime_BoundaryInclusive(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	// The default interval spans 2025-06-01 .. 2025-07-01.
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	inTime, err := svc.WaveInTime(ctx, "pt", "pt", end)
	if err != nil {
		t.Fatalf("WaveInTime: %v", err)
	}
	if !inTime {
		t.Error("now equal to interval end should count as in time")
	}
	after, err := svc.WaveInTime(ctx, "pt", "pt", end.Add(time.Second))
	if err != nil {
		t.Fatalf("WaveInTime: %v", err)
	}
	if after {
		t.Error("now past interval end should be out of time")
	}
}

func TestUpdateInterval_RefreshesOOTFlag(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	tool := &models.Tool{
		ID: models.NewID(), Pentest: "pt", Name: "scan", Wave: "pt",
		Status: []string{models.StatusReady},
	}
	if err := svc.Store().InsertTool(ctx, tool); err != nil {
		t.Fatalf("InsertTool: %v", err)
	}

	// Move the only interval into the past: the wave drops out of time.
	intervals, _ := svc.Store().ListIntervals(ctx, "pt", "pt")
	iv := intervals[0]
	iv.Dated = "01/01/2025 00:00:00"
	iv.Datef = "02/01/2025 00:00:00"
	if err := svc.UpdateInterval(ctx, &iv); err != nil {
		t.Fatalf("UpdateInterval: %v", err)
	}
	got, _ := svc.Store().GetTool(ctx, "pt", tool.ID)
	if !got.HasStatus(models.StatusOutOfTime) {
		t.Errorf("tool status %v missing OOT after interval moved to past", got.Status)
	}

	// Bring it back: the flag clears.
	iv.Dated = "01/06/2025 00:00:00"
	iv.Datef = "01/07/2025 00:00:00"
	if err := svc.UpdateInterval(ctx, &iv); err != nil {
		t.Fatalf("UpdateInterval: %v", err)
	}
	got, _ = svc.Store().GetTool(ctx, "pt", tool.ID)
	if got.HasStatus(models.StatusOutOfTime) {
		t.Errorf("tool status %v still flags OOT after interval restored", got.Status)
	}
}

func TestAddInterval_RejectsMalformedDates(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	before, _ := svc.Store().ListIntervals(ctx, "pt", "pt")

	bad := []models.Interval{
		{Pentest: "pt", Wave: "pt", Dated: "not-a-date", Datef: "01/07/2025 00:00:00"},
		{Pentest: "pt", Wave: "pt", Dated: "01/06/2025 00:00:00", Datef: "2025-07-01"},
		{Pentest: "pt", Wave: "pt", Dated: "", Datef: ""},
	}
	for _, iv := range bad {
		iv := iv
		if err := svc.AddInterval(ctx, &iv); err == nil {
			t.Errorf("AddInterval(%q, %q) accepted malformed bounds", iv.Dated, iv.Datef)
		}
	}

	// Nothing was written.
	after, _ := svc.Store().ListIntervals(ctx, "pt", "pt")
	if len(after) != len(before) {
		t.Errorf("interval count changed from %d to %d on rejected inserts", len(before), len(after))
	}

	// UpdateInterval applies the same validation.
	iv := before[0]
	iv.Datef = "garbage"
	if err := svc.UpdateInterval(ctx, &iv); err == nil {
		t.Error("UpdateInterval accepted a malformed end date")
	}
	kept, _ := svc.Store().ListIntervals(ctx, "pt", "pt")
	if kept[0].Datef != before[0].Datef {
		t.Errorf("stored end date changed to %q after rejected update", kept[0].Datef)
	}
}

func TestAddPort_ServiceTrigger(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	if _, err := svc.AddPort(ctx, &models.Port{Pentest: "pt", IP: "10.0.0.1", Port: "80", Proto: "tcp"}); err != nil {
		t.Fatalf("AddPort without service: %v", err)
	}
	if n := rec.countTopic(TriggerPortServiceUpdate); n != 0 {
		t.Errorf("port:onServiceUpdate fired %d times for service-less port", n)
	}
	if _, err := svc.AddPort(ctx, &models.Port{Pentest: "pt", IP: "10.0.0.1", Port: "443", Proto: "tcp", Service: "https"}); err != nil {
		t.Fatalf("AddPort with service: %v", err)
	}
	if n := rec.countTopic(TriggerPortServiceUpdate); n != 1 {
		t.Errorf("port:onServiceUpdate fired %d times, want 1", n)
	}
}

func TestAddPort_ComputerStubUpsert(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	if _, err := svc.AddPort(ctx, &models.Port{Pentest: "pt", IP: "10.0.0.2", Port: "445", Proto: "tcp", Service: "microsoft-ds"}); err != nil {
		t.Fatalf("AddPort 445: %v", err)
	}
	computers, err := svc.Store().ListComputers(ctx, "pt", "")
	if err != nil {
		t.Fatalf("ListComputers: %v", err)
	}
	if len(computers) != 1 {
		t.Fatalf("got %d computers after smb port, want 1", len(computers))
	}
	if computers[0].IsDC || computers[0].IsSQLServer {
		t.Errorf("smb stub carries flags: dc=%v sql=%v", computers[0].IsDC, computers[0].IsSQLServer)
	}

	// Kerberos on the same host promotes the stub instead of duplicating it.
	if _, err := svc.AddPort(ctx, &models.Port{Pentest: "pt", IP: "10.0.0.2", Port: "88", Proto: "tcp", Service: "kerberos-sec"}); err != nil {
		t.Fatalf("AddPort 88: %v", err)
	}
	computers, err = svc.Store().ListComputers(ctx, "pt", "")
	if err != nil {
		t.Fatalf("ListComputers: %v", err)
	}
	if len(computers) != 1 {
		t.Fatalf("got %d computers after kerberos port, want 1", len(computers))
	}
	if !computers[0].IsDC {
		t.Error("kerberos port did not promote the computer to DC")
	}
	if n := rec.countTopic(TriggerNewDC); n != 1 {
		t.Errorf("AD:onNewDC fired %d times, want 1", n)
	}

	if _, err := svc.AddPort(ctx, &models.Port{Pentest: "pt", IP: "10.0.0.3", Port: "5432", Proto: "tcp", Service: "ms-sql"}); err != nil {
		t.Fatalf("AddPort ms-sql: %v", err)
	}
	computers, err = svc.Store().ListComputers(ctx, "pt", "")
	if err != nil {
		t.Fatalf("ListComputers: %v", err)
	}
	if len(computers) != 2 {
		t.Fatalf("got %d computers after ms-sql port, want 2", len(computers))
	}
	if n := rec.countTopic(TriggerNewSQLServer); n != 1 {
		t.Errorf("AD:onNewSQLServer fired %d times, want 1", n)
	}

	// Ordinary ports never create stubs.
	if _, err := svc.AddPort(ctx, &models.Port{Pentest: "pt", IP: "10.0.0.4", Port: "80", Proto: "tcp", Service: "http"}); err != nil {
		t.Fatalf("AddPort 80: %v", err)
	}
	computers, err = svc.Store().ListComputers(ctx, "pt", "")
	if err != nil {
		t.Fatalf("ListComputers: %v", err)
	}
	if len(computers) != 2 {
		t.Errorf("got %d computers after http port, want 2", len(computers))
	}
}

func TestUpdatePort_ServiceChangeDiscardsStaleChecks(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	item := &models.CheckItem{ID: models.NewID(), Title: "probe service", Lvl: TriggerPortServiceUpdate, MaxThread: 1}
	if err := svc.Store().InsertCheckItem(ctx, item); err != nil {
		t.Fatalf("InsertCheckItem: %v", err)
	}
	res, err := svc.AddPort(ctx, &models.Port{Pentest: "pt", IP: "10.0.0.1", Port: "8080", Proto: "tcp", Service: "http"})
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}

	// Simulate the triggers module having materialized a check with one
	// tool that never ran.
	ci := &models.CheckInstance{ID: models.NewID(), Pentest: "pt", CheckIID: item.ID, TargetIID: res.IID, TargetType: "port"}
	if _, _, err := svc.Store().InsertCheckInstance(ctx, ci); err != nil {
		t.Fatalf("InsertCheckInstance: %v", err)
	}
	tool := &models.Tool{ID: models.NewID(), Pentest: "pt", CheckIID: ci.ID, Status: []string{models.StatusReady}}
	if err := svc.Store().InsertTool(ctx, tool); err != nil {
		t.Fatalf("InsertTool: %v", err)
	}

	p, _ := svc.Store().GetPort(ctx, "pt", res.IID)
	p.Service = "https"
	if err := svc.UpdatePort(ctx, p); err != nil {
		t.Fatalf("UpdatePort: %v", err)
	}

	if got, _ := svc.Store().GetCheckInstance(ctx, "pt", ci.ID); got != nil {
		t.Error("stale service check-instance survived service change")
	}
	if got, _ := svc.Store().GetTool(ctx, "pt", tool.ID); got != nil {
		t.Error("stale tool survived service change")
	}
	if n := rec.countTopic(TriggerPortServiceUpdate); n != 2 {
		t.Errorf("port:onServiceUpdate fired %d times, want 2 (insert + change)", n)
	}
}

func TestTags_FireSymmetricTriggers(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	host, err := svc.AddHost(ctx, &models.Host{Pentest: "pt", IP: "10.0.0.3"})
	if err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	res, err := svc.AddTag(ctx, &models.Tag{Pentest: "pt", ItemID: host.IID, ItemType: "ip", Name: "todo-web"})
	if err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	if n := rec.countTopic(TriggerTagAddPrefix + "todo-web"); n != 1 {
		t.Errorf("tag:onAdd:todo-web fired %d times, want 1", n)
	}
	// Same tag again: no-op, no second trigger.
	dup, err := svc.AddTag(ctx, &models.Tag{Pentest: "pt", ItemID: host.IID, ItemType: "ip", Name: "todo-web"})
	if err != nil {
		t.Fatalf("AddTag duplicate: %v", err)
	}
	if dup.Ok {
		t.Error("duplicate tag insert reported Ok=true")
	}
	if n := rec.countTopic(TriggerTagAddPrefix + "todo-web"); n != 1 {
		t.Errorf("duplicate tag re-fired trigger (%d total)", n)
	}

	if err := svc.RemoveTag(ctx, "pt", res.IID); err != nil {
		t.Fatalf("RemoveTag: %v", err)
	}
	if n := rec.countTopic(TriggerTagRemovePrefix + "todo-web"); n != 1 {
		t.Errorf("tag:onRemove:todo-web fired %d times, want 1", n)
	}
}

func TestADTriggers_ComputerTransitions(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	res, err := svc.AddComputer(ctx, &models.Computer{Pentest: "pt", IP: "10.0.0.10", Domain: "corp.local", IsDC: true})
	if err != nil {
		t.Fatalf("AddComputer: %v", err)
	}
	if rec.countTopic(TriggerNewDomainDiscovered) != 1 {
		t.Error("AD:onNewDomainDiscovered not fired for first computer of domain")
	}
	if rec.countTopic(TriggerNewDC) != 1 {
		t.Error("AD:onNewDC not fired for DC")
	}

	// Second computer in the same domain: no new domain event.
	if _, err := svc.AddComputer(ctx, &models.Computer{Pentest: "pt", IP: "10.0.0.11", Domain: "corp.local"}); err != nil {
		t.Fatalf("AddComputer second: %v", err)
	}
	if rec.countTopic(TriggerNewDomainDiscovered) != 1 {
		t.Error("AD:onNewDomainDiscovered re-fired for known domain")
	}

	// First user on the DC.
	c, _ := svc.Store().GetComputer(ctx, "pt", res.IID)
	c.Users = []string{"user-1"}
	if err := svc.UpdateComputer(ctx, c); err != nil {
		t.Fatalf("UpdateComputer: %v", err)
	}
	if rec.countTopic(TriggerFirstUserOnComputer) != 1 {
		t.Error("AD:onFirstUserOnComputer not fired")
	}
	if rec.countTopic(TriggerFirstUserOnDC) != 1 {
		t.Error("AD:onFirstUserOnDC not fired")
	}

	// Second user: the "new" variant, not "first".
	c.Users = []string{"user-1", "user-2"}
	if err := svc.UpdateComputer(ctx, c); err != nil {
		t.Fatalf("UpdateComputer: %v", err)
	}
	if rec.countTopic(TriggerFirstUserOnComputer) != 1 {
		t.Error("AD:onFirstUserOnComputer re-fired for second user")
	}
	if rec.countTopic(TriggerNewUserOnComputer) != 1 {
		t.Error("AD:onNewUserOnComputer not fired for second user")
	}
}

func TestADTriggers_UserPassword(t *testing.T) {
	svc, rec := testService(t)
	ctx := context.Background()
	mustRegister(t, svc, "pt")

	res, err := svc.AddUser(ctx, &models.User{Pentest: "pt", Domain: "corp.local", Username: "jdoe"})
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if rec.countTopic(TriggerNewUserFound) != 1 {
		t.Error("AD:onNewUserFound not fired")
	}
	if rec.countTopic(TriggerNewValidUser) != 0 {
		t.Error("AD:onNewValidUser fired without password")
	}

	u, _ := svc.Store().GetUser(ctx, "pt", res.IID)
	u.Password = "Winter2025!"
	if err := svc.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if rec.countTopic(TriggerNewValidUser) != 1 {
		t.Error("AD:onNewValidUser not fired when password learned")
	}
}
