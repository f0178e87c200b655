package entities

import (
	"context"
	"testing"

	"github.com/fbarre96/pollenisator/pkg/models"
)

func addDefect(t *testing.T, svc *Service, title, severity string) string {
	t.Helper()
	res, err := svc.AddDefect(context.Background(), &models.Defect{
		Pentest: "pt", Title: title, Severity: severity,
	})
	if err != nil {
		t.Fatalf("AddDefect(%s): %v", title, err)
	}
	return res.IID
}

// assertDefectOrder checks the two list invariants: indices form a
// contiguous permutation and severities are grouped in report order.
func assertDefectOrder(t *testing.T, svc *Service, wantTitles []string) {
	t.Helper()
	list, err := svc.Store().ListUnassignedDefects(context.Background(), "pt")
	if err != nil {
		t.Fatalf("ListUnassignedDefects: %v", err)
	}
	if len(list) != len(wantTitles) {
		t.Fatalf("got %d defects, want %d", len(list), len(wantTitles))
	}
	prevRank := -1
	for i, d := range list {
		if d.Index != i {
			t.Errorf("defect %q stored index %d, want %d", d.Title, d.Index, i)
		}
		if d.Title != wantTitles[i] {
			t.Errorf("position %d holds %q, want %q", i, d.Title, wantTitles[i])
		}
		if r := models.SeverityRank(d.Severity); r < prevRank {
			t.Errorf("severity order broken at %q (%s)", d.Title, d.Severity)
		} else {
			prevRank = r
		}
	}
}

func TestDefects_InsertKeepsSeverityOrder(t *testing.T) {
	svc, _ := testService(t)
	mustRegister(t, svc, "pt")

	addDefect(t, svc, "weak tls", models.SeverityMinor)
	addDefect(t, svc, "sqli", models.SeverityCritical)
	addDefect(t, svc, "xss", models.SeverityMajor)
	addDefect(t, svc, "rce", models.SeverityCritical)

	// New Critical lands after the existing Critical, before everything else.
	assertDefectOrder(t, svc, []string{"sqli", "rce", "xss", "weak tls"})
}

func TestDefects_MoveClampsToSeverityGroup(t *testing.T) {
	svc, _ := testService(t)
	mustRegister(t, svc, "pt")

	a := addDefect(t, svc, "crit-a", models.SeverityCritical)
	addDefect(t, svc, "crit-b", models.SeverityCritical)
	addDefect(t, svc, "minor-a", models.SeverityMinor)

	// Move crit-a past the minor group; it must stop at the end of the
	// critical group.
	if err := svc.MoveDefect(context.Background(), "pt", a, 2); err != nil {
		t.Fatalf("MoveDefect: %v", err)
	}
	assertDefectOrder(t, svc, []string{"crit-b", "crit-a", "minor-a"})
}

func TestDefects_SeverityChangeReorders(t *testing.T) {
	svc, _ := testService(t)
	mustRegister(t, svc, "pt")

	addDefect(t, svc, "crit-a", models.SeverityCritical)
	minor := addDefect(t, svc, "promoted", models.SeverityMinor)
	addDefect(t, svc, "minor-b", models.SeverityMinor)

	d, err := svc.Store().GetDefect(context.Background(), "pt", minor)
	if err != nil {
		t.Fatalf("GetDefect: %v", err)
	}
	d.Severity = models.SeverityCritical
	if err := svc.UpdateDefect(context.Background(), d); err != nil {
		t.Fatalf("UpdateDefect: %v", err)
	}
	assertDefectOrder(t, svc, []string{"crit-a", "promoted", "minor-b"})
}

func TestDefects_DeleteCompactsIndices(t *testing.T) {
	svc, _ := testService(t)
	mustRegister(t, svc, "pt")

	addDefect(t, svc, "one", models.SeverityMajor)
	two := addDefect(t, svc, "two", models.SeverityMajor)
	addDefect(t, svc, "three", models.SeverityMajor)

	if err := svc.DeleteDefect(context.Background(), "pt", two); err != nil {
		t.Fatalf("DeleteDefect: %v", err)
	}
	assertDefectOrder(t, svc, []string{"one", "three"})
}

func TestDefects_AssigningRemovesFromList(t *testing.T) {
	svc, _ := testService(t)
	mustRegister(t, svc, "pt")

	addDefect(t, svc, "stays", models.SeverityMajor)
	assigned := addDefect(t, svc, "goes", models.SeverityMajor)
	addDefect(t, svc, "stays-too", models.SeverityMajor)

	d, _ := svc.Store().GetDefect(context.Background(), "pt", assigned)
	d.TargetID = models.NewID()
	d.TargetType = "ip"
	if err := svc.UpdateDefect(context.Background(), d); err != nil {
		t.Fatalf("UpdateDefect: %v", err)
	}
	assertDefectOrder(t, svc, []string{"stays", "stays-too"})
}
