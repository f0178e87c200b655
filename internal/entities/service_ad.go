package entities

import (
	"context"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// AD write paths. Computer and user mutations fire the AD:* trigger family;
// the rules below mirror the state transitions, not the raw writes, so
// re-submitting the same data fires nothing.

// AddComputer inserts a computer and fires the discovery triggers that its
// initial state implies.
func (s *Service) AddComputer(ctx context.Context, c *models.Computer) (InsertResult, error) {
	if c.ID == "" {
		c.ID = models.NewID()
	}
	newDomain := false
	if c.Domain != "" {
		n, err := s.store.CountDomainComputers(ctx, c.Pentest, c.Domain)
		if err != nil {
			return InsertResult{}, err
		}
		newDomain = n == 0
	}

	ok, iid, err := s.store.InsertComputer(ctx, c)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	s.notify(ctx, c.Pentest, "computers", iid, "insert")

	if newDomain {
		s.fireTrigger(ctx, c.Pentest, TriggerNewDomainDiscovered, iid, "computer")
	}
	if c.IsDC {
		s.fireTrigger(ctx, c.Pentest, TriggerNewDC, iid, "computer")
	}
	if c.IsSQLServer {
		s.fireTrigger(ctx, c.Pentest, TriggerNewSQLServer, iid, "computer")
	}
	s.fireAccountTriggers(ctx, &models.Computer{Pentest: c.Pentest, ID: iid}, c, len(c.Users) > 0, len(c.Admins) > 0)
	return InsertResult{Ok: true, IID: iid}, nil
}

// UpdateComputer rewrites a computer and fires the triggers implied by the
// transitions between the stored and submitted states.
func (s *Service) UpdateComputer(ctx context.Context, c *models.Computer) error {
	old, err := s.store.GetComputer(ctx, c.Pentest, c.ID)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	if err := s.store.UpdateComputer(ctx, c); err != nil {
		return err
	}
	s.notify(ctx, c.Pentest, "computers", c.ID, "update")

	if !old.IsDC && c.IsDC {
		s.fireTrigger(ctx, c.Pentest, TriggerNewDC, c.ID, "computer")
	}
	if !old.IsSQLServer && c.IsSQLServer {
		s.fireTrigger(ctx, c.Pentest, TriggerNewSQLServer, c.ID, "computer")
	}

	newUsers := diffIDs(old.Users, c.Users)
	newAdmins := diffIDs(old.Admins, c.Admins)
	if len(newUsers) > 0 || len(newAdmins) > 0 {
		s.fireAccountTriggers(ctx, old, c, len(newUsers) > 0, len(newAdmins) > 0)
	}
	return nil
}

// fireAccountTriggers fires the first/new user and admin triggers for a
// computer, with the DC and SQL-server variants layered on top. firstness is
// judged against the previous state (old).
func (s *Service) fireAccountTriggers(ctx context.Context, old, c *models.Computer, gotUsers, gotAdmins bool) {
	target := c.ID
	if target == "" {
		target = old.ID
	}
	if gotUsers {
		if len(old.Users) == 0 {
			s.fireTrigger(ctx, c.Pentest, TriggerFirstUserOnComputer, target, "computer")
			if c.IsDC {
				s.fireTrigger(ctx, c.Pentest, TriggerFirstUserOnDC, target, "computer")
			}
			if c.IsSQLServer {
				s.fireTrigger(ctx, c.Pentest, TriggerFirstUserOnSQLServer, target, "computer")
			}
		} else {
			s.fireTrigger(ctx, c.Pentest, TriggerNewUserOnComputer, target, "computer")
			if c.IsDC {
				s.fireTrigger(ctx, c.Pentest, TriggerNewUserOnDC, target, "computer")
			}
		}
	}
	if gotAdmins {
		if len(old.Admins) == 0 {
			s.fireTrigger(ctx, c.Pentest, TriggerFirstAdminOnComputer, target, "computer")
			if c.IsDC {
				s.fireTrigger(ctx, c.Pentest, TriggerFirstAdminOnDC, target, "computer")
			}
			if c.IsSQLServer {
				s.fireTrigger(ctx, c.Pentest, TriggerFirstAdminOnSQLServer, target, "computer")
			}
		} else {
			s.fireTrigger(ctx, c.Pentest, TriggerNewAdminOnComputer, target, "computer")
			if c.IsDC {
				s.fireTrigger(ctx, c.Pentest, TriggerNewAdminOnDC, target, "computer")
			}
		}
	}
}

// diffIDs returns ids present in next but not in prev.
func diffIDs(prev, next []string) []string {
	seen := make(map[string]bool, len(prev))
	for _, id := range prev {
		seen[id] = true
	}
	var added []string
	for _, id := range next {
		if !seen[id] {
			added = append(added, id)
		}
	}
	return added
}

// AddUser inserts a domain user. A user always fires AD:onNewUserFound; a
// user with a known password additionally fires AD:onNewValidUser.
func (s *Service) AddUser(ctx context.Context, u *models.User) (InsertResult, error) {
	if u.ID == "" {
		u.ID = models.NewID()
	}
	ok, iid, err := s.store.InsertUser(ctx, u)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	s.notify(ctx, u.Pentest, "users", iid, "insert")
	s.fireTrigger(ctx, u.Pentest, TriggerNewUserFound, iid, "user")
	if u.Password != "" {
		s.fireTrigger(ctx, u.Pentest, TriggerNewValidUser, iid, "user")
	}
	return InsertResult{Ok: true, IID: iid}, nil
}

// UpdateUser rewrites a user. Learning a password fires AD:onNewValidUser.
func (s *Service) UpdateUser(ctx context.Context, u *models.User) error {
	old, err := s.store.GetUser(ctx, u.Pentest, u.ID)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.notify(ctx, u.Pentest, "users", u.ID, "update")
	if old.Password == "" && u.Password != "" {
		s.fireTrigger(ctx, u.Pentest, TriggerNewValidUser, u.ID, "user")
	}
	return nil
}

// AddShare inserts a share.
func (s *Service) AddShare(ctx context.Context, sh *models.Share) (InsertResult, error) {
	if sh.ID == "" {
		sh.ID = models.NewID()
	}
	ok, iid, err := s.store.InsertShare(ctx, sh)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		return InsertResult{Ok: false, IID: iid}, nil
	}
	s.notify(ctx, sh.Pentest, "shares", iid, "insert")
	return InsertResult{Ok: true, IID: iid}, nil
}

// MergeShareFiles appends files to a share, deduplicating on path.
func (s *Service) MergeShareFiles(ctx context.Context, pentest, id string, files []models.ShareFile) error {
	sh, err := s.store.GetShare(ctx, pentest, id)
	if err != nil {
		return err
	}
	if sh == nil {
		return nil
	}
	known := make(map[string]bool, len(sh.Files))
	for _, f := range sh.Files {
		known[f.Path] = true
	}
	changed := false
	for _, f := range files {
		if known[f.Path] {
			continue
		}
		sh.Files = append(sh.Files, f)
		known[f.Path] = true
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.store.UpdateShare(ctx, sh); err != nil {
		return err
	}
	s.notify(ctx, pentest, "shares", id, "update")
	return nil
}
