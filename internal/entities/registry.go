package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"

	"github.com/fbarre96/pollenisator/pkg/models"
)

// GlobalScope is the path segment addressing catalog collections (commands
// and check-items that belong to no engagement).
const GlobalScope = "global"

// collectionOps is the uniform operation set one collection exposes through
// the generic document API. Nil fields mean the operation is not supported
// for that collection.
type collectionOps struct {
	insert func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error)
	list   func(ctx context.Context, pentest string, q url.Values) (any, error)
	get    func(ctx context.Context, pentest, id string) (any, error)
	update func(ctx context.Context, pentest, id string, raw json.RawMessage) error
	delete func(ctx context.Context, pentest, id string) error
}

// ErrUnknownCollection is returned when a request addresses a collection
// that is not registered.
type ErrUnknownCollection struct{ Name string }

func (e ErrUnknownCollection) Error() string {
	return fmt.Sprintf("unknown collection %q", e.Name)
}

// collections builds the dispatch table mapping collection names to typed
// operations. Target collections route through the Service so triggers,
// cascades and notifications fire; plain collections go straight to the
// store.
func (s *Service) collections() map[string]collectionOps {
	return map[string]collectionOps{
		"waves": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var w models.Wave
				if err := json.Unmarshal(raw, &w); err != nil {
					return InsertResult{}, err
				}
				w.Pentest = pentest
				return s.AddWave(ctx, &w)
			},
			list: func(ctx context.Context, pentest string, _ url.Values) (any, error) {
				return s.store.ListWaves(ctx, pentest)
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetWave(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var w models.Wave
				if err := json.Unmarshal(raw, &w); err != nil {
					return err
				}
				w.Pentest, w.ID = pentest, id
				return s.store.UpdateWave(ctx, &w)
			},
			delete: s.DeleteWave,
		},
		"intervals": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var iv models.Interval
				if err := json.Unmarshal(raw, &iv); err != nil {
					return InsertResult{}, err
				}
				iv.Pentest = pentest
				if err := s.AddInterval(ctx, &iv); err != nil {
					return InsertResult{}, err
				}
				return InsertResult{Ok: true, IID: iv.ID}, nil
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListIntervals(ctx, pentest, q.Get("wave"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetInterval(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var iv models.Interval
				if err := json.Unmarshal(raw, &iv); err != nil {
					return err
				}
				iv.Pentest, iv.ID = pentest, id
				return s.UpdateInterval(ctx, &iv)
			},
			delete: s.DeleteInterval,
		},
		"scopes": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var sc models.Scope
				if err := json.Unmarshal(raw, &sc); err != nil {
					return InsertResult{}, err
				}
				sc.Pentest = pentest
				return s.AddScope(ctx, &sc)
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListScopes(ctx, pentest, q.Get("wave"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetScope(ctx, pentest, id))
			},
			delete: s.DeleteScope,
		},
		"ips": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var h models.Host
				if err := json.Unmarshal(raw, &h); err != nil {
					return InsertResult{}, err
				}
				h.Pentest = pentest
				return s.AddHost(ctx, &h)
			},
			list: func(ctx context.Context, pentest string, _ url.Values) (any, error) {
				return s.store.ListHosts(ctx, pentest)
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetHost(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var h models.Host
				if err := json.Unmarshal(raw, &h); err != nil {
					return err
				}
				old, err := s.store.GetHost(ctx, pentest, id)
				if err != nil {
					return err
				}
				if old == nil {
					return fmt.Errorf("host %s not found", id)
				}
				// InScopes is derived, never client-supplied.
				old.Notes = h.Notes
				if h.Infos != nil {
					old.Infos = h.Infos
				}
				return s.store.UpdateHost(ctx, old)
			},
			delete: s.DeleteHost,
		},
		"ports": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var p models.Port
				if err := json.Unmarshal(raw, &p); err != nil {
					return InsertResult{}, err
				}
				p.Pentest = pentest
				res, err := s.AddPort(ctx, &p)
				if err != nil || res.Ok {
					return res, err
				}
				// The port exists: a scan reporting a service is an update,
				// so a refined detection replaces the stale one.
				if p.Service != "" {
					existing, err := s.store.GetPort(ctx, pentest, res.IID)
					if err != nil {
						return InsertResult{}, err
					}
					if existing != nil && existing.Service != p.Service {
						existing.Service = p.Service
						if p.Product != "" {
							existing.Product = p.Product
						}
						if err := s.UpdatePort(ctx, existing); err != nil {
							return InsertResult{}, err
						}
					}
				}
				return res, nil
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListPorts(ctx, pentest, q.Get("ip"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetPort(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var p models.Port
				if err := json.Unmarshal(raw, &p); err != nil {
					return err
				}
				p.Pentest, p.ID = pentest, id
				return s.UpdatePort(ctx, &p)
			},
			delete: s.DeletePort,
		},
		"tags": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var t models.Tag
				if err := json.Unmarshal(raw, &t); err != nil {
					return InsertResult{}, err
				}
				t.Pentest = pentest
				return s.AddTag(ctx, &t)
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListTags(ctx, pentest, q.Get("item_id"), q.Get("item_type"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetTag(ctx, pentest, id))
			},
			delete: s.RemoveTag,
		},
		"tools": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var t models.Tool
				if err := json.Unmarshal(raw, &t); err != nil {
					return InsertResult{}, err
				}
				t.Pentest = pentest
				if t.ID == "" {
					t.ID = models.NewID()
				}
				if len(t.Status) == 0 {
					t.Status = []string{models.StatusReady}
				}
				if err := s.store.InsertTool(ctx, &t); err != nil {
					return InsertResult{}, err
				}
				s.notify(ctx, pentest, "tools", t.ID, "insert")
				return InsertResult{Ok: true, IID: t.ID}, nil
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListTools(ctx, pentest, ToolFilter{
					Wave:     q.Get("wave"),
					IP:       q.Get("ip"),
					CheckIID: q.Get("check_iid"),
				})
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetTool(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var t models.Tool
				if err := json.Unmarshal(raw, &t); err != nil {
					return err
				}
				t.Pentest, t.ID = pentest, id
				if err := s.store.UpdateTool(ctx, &t); err != nil {
					return err
				}
				s.notify(ctx, pentest, "tools", id, "update")
				return nil
			},
			delete: func(ctx context.Context, pentest, id string) error {
				if err := s.store.DeleteTool(ctx, pentest, id); err != nil {
					return err
				}
				s.notify(ctx, pentest, "tools", id, "delete")
				return nil
			},
		},
		"checkinstances": {
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListCheckInstances(ctx, pentest, q.Get("target_iid"), q.Get("target_type"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetCheckInstance(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var ci models.CheckInstance
				if err := json.Unmarshal(raw, &ci); err != nil {
					return err
				}
				if err := s.store.UpdateCheckInstanceStatus(ctx, pentest, id, ci.Status); err != nil {
					return err
				}
				s.notify(ctx, pentest, "checkinstances", id, "update")
				return nil
			},
			delete: func(ctx context.Context, pentest, id string) error {
				ci, err := s.store.GetCheckInstance(ctx, pentest, id)
				if err != nil || ci == nil {
					return err
				}
				tools, err := s.store.ListToolsByCheckInstance(ctx, pentest, id)
				if err != nil {
					return err
				}
				for _, t := range tools {
					if err := s.store.DeleteTool(ctx, pentest, t.ID); err != nil {
						return err
					}
				}
				if err := s.store.DeleteCheckInstance(ctx, pentest, id); err != nil {
					return err
				}
				s.notify(ctx, pentest, "checkinstances", id, "delete")
				return nil
			},
		},
		"commands": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var c models.Command
				if err := json.Unmarshal(raw, &c); err != nil {
					return InsertResult{}, err
				}
				c.Pentest = catalogScope(pentest)
				if c.ID == "" {
					c.ID = models.NewID()
				}
				if err := s.store.InsertCommand(ctx, &c); err != nil {
					return InsertResult{}, err
				}
				return InsertResult{Ok: true, IID: c.ID}, nil
			},
			list: func(ctx context.Context, pentest string, _ url.Values) (any, error) {
				return s.store.ListCommands(ctx, catalogScope(pentest))
			},
			get: func(ctx context.Context, _, id string) (any, error) {
				return orNil(s.store.GetCommand(ctx, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var c models.Command
				if err := json.Unmarshal(raw, &c); err != nil {
					return err
				}
				c.ID = id
				return s.store.UpdateCommand(ctx, &c)
			},
			delete: func(ctx context.Context, _, id string) error {
				return s.DeleteCommand(ctx, id)
			},
		},
		"checkitems": {
			insert: func(ctx context.Context, _ string, raw json.RawMessage) (InsertResult, error) {
				var ci models.CheckItem
				if err := json.Unmarshal(raw, &ci); err != nil {
					return InsertResult{}, err
				}
				if err := s.AddCheckItem(ctx, &ci); err != nil {
					return InsertResult{}, err
				}
				return InsertResult{Ok: true, IID: ci.ID}, nil
			},
			list: func(ctx context.Context, _ string, q url.Values) (any, error) {
				return s.store.ListCheckItems(ctx, q.Get("lvl"))
			},
			get: func(ctx context.Context, _, id string) (any, error) {
				return orNil(s.store.GetCheckItem(ctx, id))
			},
			update: func(ctx context.Context, _, id string, raw json.RawMessage) error {
				var ci models.CheckItem
				if err := json.Unmarshal(raw, &ci); err != nil {
					return err
				}
				ci.ID = id
				return s.UpdateCheckItem(ctx, &ci)
			},
			delete: func(ctx context.Context, _, id string) error {
				return s.DeleteCheckItem(ctx, id)
			},
		},
		"defects": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var d models.Defect
				if err := json.Unmarshal(raw, &d); err != nil {
					return InsertResult{}, err
				}
				d.Pentest = pentest
				return s.AddDefect(ctx, &d)
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				if q.Get("target_id") != "" {
					return s.store.ListDefectsByTarget(ctx, pentest, q.Get("target_id"), q.Get("target_type"))
				}
				if q.Get("unassigned") == "true" {
					return s.store.ListUnassignedDefects(ctx, pentest)
				}
				return s.store.ListDefects(ctx, pentest)
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetDefect(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var d models.Defect
				if err := json.Unmarshal(raw, &d); err != nil {
					return err
				}
				d.Pentest, d.ID = pentest, id
				return s.UpdateDefect(ctx, &d)
			},
			delete: s.DeleteDefect,
		},
		"computers": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var c models.Computer
				if err := json.Unmarshal(raw, &c); err != nil {
					return InsertResult{}, err
				}
				c.Pentest = pentest
				return s.AddComputer(ctx, &c)
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListComputers(ctx, pentest, q.Get("domain"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetComputer(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var c models.Computer
				if err := json.Unmarshal(raw, &c); err != nil {
					return err
				}
				c.Pentest, c.ID = pentest, id
				return s.UpdateComputer(ctx, &c)
			},
			delete: func(ctx context.Context, pentest, id string) error {
				return s.store.DeleteComputer(ctx, pentest, id)
			},
		},
		"users": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var u models.User
				if err := json.Unmarshal(raw, &u); err != nil {
					return InsertResult{}, err
				}
				u.Pentest = pentest
				return s.AddUser(ctx, &u)
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListUsers(ctx, pentest, q.Get("domain"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetUser(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var u models.User
				if err := json.Unmarshal(raw, &u); err != nil {
					return err
				}
				u.Pentest, u.ID = pentest, id
				return s.UpdateUser(ctx, &u)
			},
			delete: func(ctx context.Context, pentest, id string) error {
				return s.store.DeleteUser(ctx, pentest, id)
			},
		},
		"shares": {
			insert: func(ctx context.Context, pentest string, raw json.RawMessage) (InsertResult, error) {
				var sh models.Share
				if err := json.Unmarshal(raw, &sh); err != nil {
					return InsertResult{}, err
				}
				sh.Pentest = pentest
				return s.AddShare(ctx, &sh)
			},
			list: func(ctx context.Context, pentest string, q url.Values) (any, error) {
				return s.store.ListShares(ctx, pentest, q.Get("ip"))
			},
			get: func(ctx context.Context, pentest, id string) (any, error) {
				return orNil(s.store.GetShare(ctx, pentest, id))
			},
			update: func(ctx context.Context, pentest, id string, raw json.RawMessage) error {
				var sh models.Share
				if err := json.Unmarshal(raw, &sh); err != nil {
					return err
				}
				return s.MergeShareFiles(ctx, pentest, id, sh.Files)
			},
			delete: func(ctx context.Context, pentest, id string) error {
				return s.store.DeleteShare(ctx, pentest, id)
			},
		},
	}
}

// catalogScope maps the "global" path segment to the empty catalog scope.
func catalogScope(pentest string) string {
	if pentest == GlobalScope {
		return ""
	}
	return pentest
}

// orNil flattens typed nil pointers so handlers can test for not-found with
// a single comparison.
func orNil[T any](v *T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v, nil
}

// Insert routes a generic insert to the collection's typed operation.
func (s *Service) Insert(ctx context.Context, pentest, collection string, raw json.RawMessage) (InsertResult, error) {
	ops, ok := s.collections()[collection]
	if !ok || ops.insert == nil {
		return InsertResult{}, ErrUnknownCollection{collection}
	}
	return ops.insert(ctx, pentest, raw)
}

// BulkInsertReport summarizes a bulk insert: per-document outcomes in
// submission order up to the first failure.
type BulkInsertReport struct {
	Inserted int            `json:"inserted"`
	Existing int            `json:"existing"`
	Failed   int            `json:"failed"`
	Results  []InsertResult `json:"results"`
	Errors   []string       `json:"errors,omitempty"`
}

// BulkInsert inserts a batch of documents into one collection. The batch
// stops at the first failing document; the report carries the partial
// outcomes so the caller can resubmit the remainder.
func (s *Service) BulkInsert(ctx context.Context, pentest, collection string, docs []json.RawMessage) (BulkInsertReport, error) {
	ops, ok := s.collections()[collection]
	if !ok || ops.insert == nil {
		return BulkInsertReport{}, ErrUnknownCollection{collection}
	}
	report := BulkInsertReport{Results: make([]InsertResult, 0, len(docs))}
	for i, doc := range docs {
		res, err := ops.insert(ctx, pentest, doc)
		if err != nil {
			// Stop at the first failure: the report tells the caller how far
			// the batch got, and the remaining documents are not attempted.
			report.Failed = 1
			report.Results = append(report.Results, InsertResult{})
			report.Errors = append(report.Errors, fmt.Sprintf("document %d: %v", i, err))
			return report, nil
		}
		if res.Ok {
			report.Inserted++
		} else {
			report.Existing++
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// List routes a generic list to the collection's typed operation.
func (s *Service) List(ctx context.Context, pentest, collection string, q url.Values) (any, error) {
	ops, ok := s.collections()[collection]
	if !ok || ops.list == nil {
		return nil, ErrUnknownCollection{collection}
	}
	return ops.list(ctx, pentest, q)
}

// Count returns the number of documents a List with the same filters would
// return.
func (s *Service) Count(ctx context.Context, pentest, collection string, q url.Values) (int, error) {
	result, err := s.List(ctx, pentest, collection, q)
	if err != nil {
		return 0, err
	}
	v := reflect.ValueOf(result)
	if !v.IsValid() || v.Kind() != reflect.Slice {
		return 0, nil
	}
	return v.Len(), nil
}

// Get routes a generic fetch to the collection's typed operation. Returns
// nil, nil when the document does not exist.
func (s *Service) Get(ctx context.Context, pentest, collection, id string) (any, error) {
	ops, ok := s.collections()[collection]
	if !ok || ops.get == nil {
		return nil, ErrUnknownCollection{collection}
	}
	return ops.get(ctx, pentest, id)
}

// Update routes a generic update to the collection's typed operation.
func (s *Service) Update(ctx context.Context, pentest, collection, id string, raw json.RawMessage) error {
	ops, ok := s.collections()[collection]
	if !ok || ops.update == nil {
		return ErrUnknownCollection{collection}
	}
	return ops.update(ctx, pentest, id, raw)
}

// Delete routes a generic delete to the collection's typed operation.
func (s *Service) Delete(ctx context.Context, pentest, collection, id string) error {
	ops, ok := s.collections()[collection]
	if !ok || ops.delete == nil {
		return ErrUnknownCollection{collection}
	}
	return ops.delete(ctx, pentest, id)
}
