package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/store"
	"github.com/fbarre96/pollenisator/pkg/models"
	"go.uber.org/zap"
)

func testFleet(t *testing.T) (*FleetStore, *entities.Service) {
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
	if err := db.Migrate(ctx, "fleet", Migrations()); err != nil {
		t.Fatalf("migrate fleet: %v", err)
	}
	svc := entities.NewService(entities.NewStore(db.DB()), nil, zap.NewNop())
	return NewFleetStore(db.DB()), svc
}

func TestWorkerLifecycle(t *testing.T) {
	fs, _ := testFleet(t)
	ctx := context.Background()

	w := &models.Worker{
		Name:             "abc@scanner-1",
		SupportedPlugins: []string{"nmap", "default"},
		LastHeartbeat:    time.Now(),
	}
	if err := fs.UpsertWorker(ctx, w); err != nil {
		t.Fatalf("UpsertWorker: %v", err)
	}

	got, err := fs.GetWorker(ctx, "abc@scanner-1")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if got == nil {
		t.Fatal("worker not found after registration")
	}
	if !got.Supports("nmap") {
		t.Error("worker does not report nmap support")
	}
	if got.Supports("masscan") {
		t.Error("worker reports unsupported plugin")
	}

	ok, err := fs.Heartbeat(ctx, "abc@scanner-1", time.Now())
	if err != nil || !ok {
		t.Fatalf("Heartbeat: ok=%v err=%v", ok, err)
	}
	ok, err = fs.Heartbeat(ctx, "ghost@nowhere", time.Now())
	if err != nil {
		t.Fatalf("Heartbeat unknown: %v", err)
	}
	if ok {
		t.Error("heartbeat for unknown worker reported ok")
	}

	if err := fs.DeleteWorker(ctx, "abc@scanner-1"); err != nil {
		t.Fatalf("DeleteWorker: %v", err)
	}
	got, _ = fs.GetWorker(ctx, "abc@scanner-1")
	if got != nil {
		t.Error("worker still present after delete")
	}
}

func TestSweeper_ReapsStaleWorkersAndResetsTools(t *testing.T) {
	fs, svc := testFleet(t)
	ctx := context.Background()

	if _, err := svc.RegisterEngagement(ctx, "pt", time.Time{}, time.Time{}, nil); err != nil {
		t.Fatalf("RegisterEngagement: %v", err)
	}
	tool := &models.Tool{
		ID: models.NewID(), Pentest: "pt", Name: "scan", Wave: "pt",
		Status: []string{models.StatusRunning}, ScannerIP: "dead@scanner",
		Dated: "15/06/2025 10:00:00",
	}
	if err := svc.Store().InsertTool(ctx, tool); err != nil {
		t.Fatalf("InsertTool: %v", err)
	}

	stale := &models.Worker{
		Name:          "dead@scanner",
		LastHeartbeat: time.Now().Add(-2 * models.HeartbeatTimeout),
		RunningTools:  []models.RunningTool{{Pentest: "pt", ToolID: tool.ID}},
	}
	fresh := &models.Worker{Name: "alive@scanner", LastHeartbeat: time.Now()}
	if err := fs.UpsertWorker(ctx, stale); err != nil {
		t.Fatalf("UpsertWorker stale: %v", err)
	}
	if err := fs.UpsertWorker(ctx, fresh); err != nil {
		t.Fatalf("UpsertWorker fresh: %v", err)
	}

	sw := newSweeper(fs, svc, zap.NewNop(), time.Minute)
	if err := sw.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got, _ := fs.GetWorker(ctx, "dead@scanner"); got != nil {
		t.Error("stale worker survived sweep")
	}
	if got, _ := fs.GetWorker(ctx, "alive@scanner"); got == nil {
		t.Error("fresh worker was reaped")
	}

	reset, err := svc.Store().GetTool(ctx, "pt", tool.ID)
	if err != nil {
		t.Fatalf("GetTool: %v", err)
	}
	if reset.PrimaryStatus() != models.StatusReady {
		t.Errorf("orphaned tool status %v, want ready", reset.Status)
	}
	if reset.ScannerIP != "" {
		t.Errorf("orphaned tool still assigned to %q", reset.ScannerIP)
	}
	if reset.Dated != models.NoneDate {
		t.Errorf("orphaned tool dated %q, want None", reset.Dated)
	}
}

func TestTokenService_RoundTrip(t *testing.T) {
	ts := NewTokenService([]byte("test-secret"), time.Hour)

	token, err := ts.Issue("abc@scanner-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	name, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if name != "abc@scanner-1" {
		t.Errorf("Validate returned %q, want abc@scanner-1", name)
	}

	if _, err := ts.Validate(token + "x"); err == nil {
		t.Error("tampered token validated")
	}
	other := NewTokenService([]byte("other-secret"), time.Hour)
	if _, err := other.Validate(token); err == nil {
		t.Error("token validated under wrong secret")
	}
}

func TestTokenService_Expiry(t *testing.T) {
	ts := NewTokenService([]byte("test-secret"), time.Minute)
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return base }

	token, err := ts.Issue("abc@scanner-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ts.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := ts.Validate(token); err == nil {
		t.Error("expired token validated")
	}
}
