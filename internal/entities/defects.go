package entities

import (
	"context"
	"fmt"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// Unassigned defects form one globally ordered report list per engagement.
// Stored indices are a contiguous [0..N-1] permutation and severities are
// grouped: every Critical defect precedes every Major one, and so on. The
// helpers below maintain both properties across insert, move, severity
// change and delete.

// AddDefect inserts a defect. Unassigned defects enter the ordered list at
// the end of their severity group.
func (s *Service) AddDefect(ctx context.Context, d *models.Defect) (InsertResult, error) {
	if d.ID == "" {
		d.ID = models.NewID()
	}
	if d.Severity == "" {
		d.Severity = models.SeverityMinor
	}
	if d.Assigned() {
		d.Index = 0
		if err := s.store.InsertDefect(ctx, d); err != nil {
			return InsertResult{}, err
		}
		s.notify(ctx, d.Pentest, "defects", d.ID, "insert")
		return InsertResult{Ok: true, IID: d.ID}, nil
	}

	list, err := s.store.ListUnassignedDefects(ctx, d.Pentest)
	if err != nil {
		return InsertResult{}, err
	}
	pos := severityGroupEnd(list, d.Severity)
	for i := len(list) - 1; i >= pos; i-- {
		if err := s.store.UpdateDefectIndex(ctx, d.Pentest, list[i].ID, i+1); err != nil {
			return InsertResult{}, err
		}
	}
	d.Index = pos
	if err := s.store.InsertDefect(ctx, d); err != nil {
		return InsertResult{}, err
	}
	s.notify(ctx, d.Pentest, "defects", d.ID, "insert")
	return InsertResult{Ok: true, IID: d.ID}, nil
}

// severityGroupEnd returns the index one past the last defect whose severity
// ranks at or above sev (the insertion point keeping groups contiguous).
func severityGroupEnd(list []models.Defect, sev string) int {
	rank := models.SeverityRank(sev)
	pos := 0
	for i, d := range list {
		if models.SeverityRank(d.Severity) <= rank {
			pos = i + 1
		}
	}
	return pos
}

// MoveDefect moves an unassigned defect to a new position in the list. The
// target is clamped inside the defect's severity group so groups stay
// contiguous.
func (s *Service) MoveDefect(ctx context.Context, pentest, id string, target int) error {
	list, err := s.store.ListUnassignedDefects(ctx, pentest)
	if err != nil {
		return err
	}
	cur := -1
	for i, d := range list {
		if d.ID == id {
			cur = i
			break
		}
	}
	if cur == -1 {
		return fmt.Errorf("defect %s is not in the unassigned list", id)
	}

	lo, hi := severityGroupBounds(list, list[cur].Severity)
	if target < lo {
		target = lo
	}
	if target > hi {
		target = hi
	}
	if target == cur {
		return nil
	}

	moved := list[cur]
	list = append(list[:cur], list[cur+1:]...)
	list = append(list[:target], append([]models.Defect{moved}, list[target:]...)...)
	if err := s.renumber(ctx, pentest, list); err != nil {
		return err
	}
	s.notify(ctx, pentest, "defects", id, "update")
	return nil
}

// severityGroupBounds returns the [lo, hi] index range the severity group
// occupies in the list.
func severityGroupBounds(list []models.Defect, sev string) (int, int) {
	rank := models.SeverityRank(sev)
	lo, hi := 0, len(list)-1
	for i, d := range list {
		r := models.SeverityRank(d.Severity)
		if r < rank {
			lo = i + 1
		}
		if r <= rank {
			hi = i
		}
	}
	return lo, hi
}

// UpdateDefect rewrites a defect. A severity change on an unassigned defect
// moves it to the end of its new severity group; assigning a target removes
// it from the list.
func (s *Service) UpdateDefect(ctx context.Context, d *models.Defect) error {
	old, err := s.store.GetDefect(ctx, d.Pentest, d.ID)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("defect %s not found", d.ID)
	}

	leavesList := !old.Assigned() && d.Assigned()
	reorder := !old.Assigned() && !d.Assigned() && old.Severity != d.Severity

	d.Index = old.Index
	if err := s.store.UpdateDefect(ctx, d); err != nil {
		return err
	}
	s.notify(ctx, d.Pentest, "defects", d.ID, "update")

	if leavesList {
		return s.compact(ctx, d.Pentest)
	}
	if reorder {
		list, err := s.store.ListUnassignedDefects(ctx, d.Pentest)
		if err != nil {
			return err
		}
		cur := -1
		for i, item := range list {
			if item.ID == d.ID {
				cur = i
				break
			}
		}
		if cur == -1 {
			return nil
		}
		moved := list[cur]
		rest := append(append([]models.Defect{}, list[:cur]...), list[cur+1:]...)
		pos := severityGroupEnd(rest, moved.Severity)
		rest = append(rest[:pos], append([]models.Defect{moved}, rest[pos:]...)...)
		return s.renumber(ctx, d.Pentest, rest)
	}
	return nil
}

// DeleteDefect removes a defect and compacts the unassigned list.
func (s *Service) DeleteDefect(ctx context.Context, pentest, id string) error {
	d, err := s.store.GetDefect(ctx, pentest, id)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	if err := s.store.DeleteDefect(ctx, pentest, id); err != nil {
		return err
	}
	s.notify(ctx, pentest, "defects", id, "delete")
	if !d.Assigned() {
		return s.compact(ctx, pentest)
	}
	return nil
}

// renumber rewrites stored indices to match the slice order.
func (s *Service) renumber(ctx context.Context, pentest string, list []models.Defect) error {
	for i, d := range list {
		if d.Index == i {
			continue
		}
		if err := s.store.UpdateDefectIndex(ctx, pentest, d.ID, i); err != nil {
			return err
		}
	}
	return nil
}

// compact restores the contiguous [0..N-1] numbering after a removal.
func (s *Service) compact(ctx context.Context, pentest string) error {
	list, err := s.store.ListUnassignedDefects(ctx, pentest)
	if err != nil {
		return err
	}
	return s.renumber(ctx, pentest, list)
}
