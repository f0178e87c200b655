package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/fleet"
	"github.com/fbarre96/pollenisator/internal/parsers"
	"github.com/fbarre96/pollenisator/internal/store"
	"github.com/fbarre96/pollenisator/pkg/models"
	"go.uber.org/zap"
)

const nmapResultXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sV 10.0.0.5" start="1750000000" version="7.94">
<host>
<status state="up" reason="syn-ack"/>
<address addr="10.0.0.5" addrtype="ipv4"/>
<ports>
<port protocol="tcp" portid="80">
<state state="open" reason="syn-ack" reason_ttl="64"/>
<service name="http" product="nginx" version="1.24.0" method="probed" conf="10"/>
</port>
</ports>
</host>
<runstats><finished time="1750000060" elapsed="60"/><hosts up="1" down="0" total="1"/></runstats>
</nmaprun>`

func testIngest(t *testing.T) (*Service, *entities.Service) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, "entities", entities.Migrations()); err != nil {
		t.Fatalf("migrate entities: %v", err)
	}
	ent := entities.NewService(entities.NewStore(db.DB()), nil, zap.NewNop())
	ent.SetResolver(func(host string) ([]string, error) { return nil, nil })

	svc := NewService(ent, nil, parsers.NewDefaultRegistry(), t.TempDir(), zap.NewNop())
	return svc, ent
}

func addTool(t *testing.T, ent *entities.Service, pentest, text, checkIID string) *models.Tool {
	t.Helper()
	tool := &models.Tool{
		ID: models.NewID(), Pentest: pentest, Name: "scan", Wave: pentest,
		CheckIID: checkIID, Text: text,
		Status: []string{models.StatusReady},
	}
	if err := ent.Store().InsertTool(context.Background(), tool); err != nil {
		t.Fatalf("InsertTool: %v", err)
	}
	return tool
}

func TestSetStatus_RunningThenDone(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	if _, err := ent.RegisterEngagement(ctx, "pt", time.Time{}, time.Time{}, nil); err != nil {
		t.Fatalf("RegisterEngagement: %v", err)
	}
	tool := addTool(t, ent, "pt", "nmap -sV 10.0.0.5", "")

	if err := svc.SetStatus(ctx, "pt", tool.ID, models.StatusRunning, "w1@scanner", ""); err != nil {
		t.Fatalf("SetStatus running: %v", err)
	}
	got, _ := ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.PrimaryStatus() != models.StatusRunning {
		t.Errorf("status = %v, want running", got.Status)
	}
	if got.ScannerIP != "w1@scanner" {
		t.Errorf("scanner = %q, want w1@scanner", got.ScannerIP)
	}
	if got.Dated == models.NoneDate {
		t.Error("start date not recorded")
	}

	if err := svc.SetStatus(ctx, "pt", tool.ID, models.StatusDone, "", ""); err != nil {
		t.Fatalf("SetStatus done: %v", err)
	}
	got, _ = ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.PrimaryStatus() != models.StatusDone {
		t.Errorf("status = %v, want done", got.Status)
	}
	if got.Datef == models.NoneDate {
		t.Error("end date not recorded")
	}
}

func TestSetStatus_LateRunningIgnoredAfterDone(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	tool := addTool(t, ent, "pt", "nmap -sV 10.0.0.5", "")
	if err := svc.SetStatus(ctx, "pt", tool.ID, models.StatusDone, "", ""); err != nil {
		t.Fatalf("SetStatus done: %v", err)
	}
	// The out-of-order running event must not resurrect the tool.
	if err := svc.SetStatus(ctx, "pt", tool.ID, models.StatusRunning, "w1@scanner", ""); err != nil {
		t.Fatalf("SetStatus late running: %v", err)
	}
	got, _ := ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.PrimaryStatus() != models.StatusDone {
		t.Errorf("status = %v, want done to stick", got.Status)
	}
}

func TestSetStatus_ErrorRecordsNotes(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	tool := addTool(t, ent, "pt", "nmap -sV 10.0.0.5", "")
	if err := svc.SetStatus(ctx, "pt", tool.ID, models.StatusError, "", "connection refused"); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	got, _ := ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.PrimaryStatus() != models.StatusError {
		t.Errorf("status = %v, want error", got.Status)
	}
	if got.Notes != "connection refused" {
		t.Errorf("notes = %q, want the failure message", got.Notes)
	}
}

func TestSetStatus_UnknownTool(t *testing.T) {
	svc, _ := testIngest(t)
	err := svc.SetStatus(context.Background(), "pt", "nope", models.StatusDone, "", "")
	if err != ErrToolNotFound {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestImportResult_NmapFeedsTargets(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	if _, err := ent.RegisterEngagement(ctx, "pt", time.Time{}, time.Time{}, nil); err != nil {
		t.Fatalf("RegisterEngagement: %v", err)
	}
	ci := &models.CheckInstance{
		ID: models.NewID(), Pentest: "pt", CheckIID: "check-1",
		TargetIID: "target-1", TargetType: "ip",
	}
	if _, _, err := ent.Store().InsertCheckInstance(ctx, ci); err != nil {
		t.Fatalf("InsertCheckInstance: %v", err)
	}
	tool := addTool(t, ent, "pt", "nmap -sV 10.0.0.5", ci.ID)

	used, err := svc.ImportResult(ctx, "pt", tool.ID, "", "scan.xml", []byte(nmapResultXML))
	if err != nil {
		t.Fatalf("ImportResult: %v", err)
	}
	if used != "nmap" {
		t.Errorf("parser used = %q, want nmap (auto-detected)", used)
	}

	host, err := ent.Store().GetHostByIP(ctx, "pt", "10.0.0.5")
	if err != nil {
		t.Fatalf("GetHostByIP: %v", err)
	}
	if host == nil {
		t.Fatal("discovered host did not re-enter the entity layer")
	}
	ports, err := ent.Store().ListPorts(ctx, "pt", "10.0.0.5")
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	if len(ports) != 1 || ports[0].Service != "http" {
		t.Errorf("ports = %+v, want one http port", ports)
	}

	got, _ := ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.PrimaryStatus() != models.StatusDone {
		t.Errorf("tool status = %v, want done", got.Status)
	}
	if got.Plugin != "nmap" {
		t.Errorf("tool plugin = %q, want nmap", got.Plugin)
	}
	if got.ResultFile == "" {
		t.Error("result file path not recorded")
	}
	if _, err := os.Stat(got.ResultFile); err != nil {
		t.Errorf("result file not stored: %v", err)
	}

	updated, _ := ent.Store().GetCheckInstance(ctx, "pt", ci.ID)
	if updated.Status != "done" {
		t.Errorf("check instance status = %q, want done", updated.Status)
	}
}

func TestImportResult_ParseErrorMarksToolError(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	tool := addTool(t, ent, "pt", "nmap -sV 10.0.0.5", "")
	if _, err := svc.ImportResult(ctx, "pt", tool.ID, "nmap", "scan.xml", []byte("garbage")); err == nil {
		t.Fatal("ImportResult accepted garbage")
	}
	got, _ := ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.PrimaryStatus() != models.StatusError {
		t.Errorf("tool status = %v, want error", got.Status)
	}
	if got.Notes == "" {
		t.Error("parse failure message not recorded")
	}
}

func TestImportResult_DefaultParserFallback(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	tool := addTool(t, ent, "pt", "customtool --scan target", "")
	used, err := svc.ImportResult(ctx, "pt", tool.ID, "", "out.log", []byte("raw output"))
	if err != nil {
		t.Fatalf("ImportResult: %v", err)
	}
	if used != parsers.DefaultPluginName {
		t.Errorf("parser used = %q, want default fallback", used)
	}
	got, _ := ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.Notes != "raw output" {
		t.Errorf("notes = %q, want raw passthrough", got.Notes)
	}
}

func TestImportResult_CommandPluginPreferred(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	cmd := &models.Command{ID: models.NewID(), Name: "custom nmap", Bin: "wrapper", Plugin: "nmap"}
	if err := ent.Store().InsertCommand(ctx, cmd); err != nil {
		t.Fatalf("InsertCommand: %v", err)
	}
	tool := addTool(t, ent, "pt", "wrapper --target 10.0.0.5", "")
	tool.CommandID = cmd.ID
	if err := ent.Store().UpdateTool(ctx, tool); err != nil {
		t.Fatalf("UpdateTool: %v", err)
	}

	used, err := svc.ImportResult(ctx, "pt", tool.ID, "", "scan.xml", []byte(nmapResultXML))
	if err != nil {
		t.Fatalf("ImportResult: %v", err)
	}
	if used != "nmap" {
		t.Errorf("parser used = %q, want the command's declared parser", used)
	}
}

func TestMarkAsDone_ClearsResultPathWhenEmpty(t *testing.T) {
	svc, ent := testIngest(t)
	ctx := context.Background()

	tool := addTool(t, ent, "pt", "nmap -sV 10.0.0.5", "")
	tool.ResultFile = "/results/pt/old.xml"
	if err := ent.Store().UpdateTool(ctx, tool); err != nil {
		t.Fatalf("UpdateTool: %v", err)
	}

	if err := svc.MarkAsDone(ctx, "pt", tool.ID, ""); err != nil {
		t.Fatalf("MarkAsDone: %v", err)
	}
	got, _ := ent.Store().GetTool(ctx, "pt", tool.ID)
	if got.PrimaryStatus() != models.StatusDone {
		t.Errorf("status = %v, want done", got.Status)
	}
	if got.ResultFile != "" {
		t.Errorf("result file = %q, want cleared", got.ResultFile)
	}
}

func TestRunningToolAccounting(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, "entities", entities.Migrations()); err != nil {
		t.Fatalf("migrate entities: %v", err)
	}
	if err := db.Migrate(ctx, "fleet", fleet.Migrations()); err != nil {
		t.Fatalf("migrate fleet: %v", err)
	}
	ent := entities.NewService(entities.NewStore(db.DB()), nil, zap.NewNop())
	fs := fleet.NewFleetStore(db.DB())
	svc := NewService(ent, fs, parsers.NewDefaultRegistry(), t.TempDir(), zap.NewNop())

	worker := &models.Worker{Name: "w1@scanner", LastHeartbeat: time.Now()}
	if err := fs.UpsertWorker(ctx, worker); err != nil {
		t.Fatalf("UpsertWorker: %v", err)
	}
	tool := addTool(t, ent, "pt", "nmap -sV 10.0.0.5", "")

	if err := svc.SetStatus(ctx, "pt", tool.ID, models.StatusRunning, "w1@scanner", ""); err != nil {
		t.Fatalf("SetStatus running: %v", err)
	}
	w, _ := fs.GetWorker(ctx, "w1@scanner")
	if len(w.RunningTools) != 1 || w.RunningTools[0].ToolID != tool.ID {
		t.Errorf("running tools = %+v, want the started tool", w.RunningTools)
	}

	if err := svc.SetStatus(ctx, "pt", tool.ID, models.StatusDone, "", ""); err != nil {
		t.Fatalf("SetStatus done: %v", err)
	}
	w, _ = fs.GetWorker(ctx, "w1@scanner")
	if len(w.RunningTools) != 0 {
		t.Errorf("running tools = %+v, want empty after done", w.RunningTools)
	}
}
