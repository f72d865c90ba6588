// Package memory implements api.Store in process memory.
//
// It enforces the same references and cascades as the Postgres schema so that
// service tests observe identical behaviour.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/obligations/pkg/api"
)

type record[T any] struct {
	seq int
	v   T
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu  sync.RWMutex
	seq int
	now func() time.Time

	obligations  map[string]record[api.Obligation]
	recurrence   map[string]record[api.RecurrencePlan]
	installments map[string]record[api.InstallmentPlan]
	documents    map[string]record[api.FiscalDocument]
	items        map[string]record[api.DocumentItem]
	categories   map[string]record[api.Category]
	entities     map[string]record[api.Entity]
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:          time.Now,
		obligations:  make(map[string]record[api.Obligation]),
		recurrence:   make(map[string]record[api.RecurrencePlan]),
		installments: make(map[string]record[api.InstallmentPlan]),
		documents:    make(map[string]record[api.FiscalDocument]),
		items:        make(map[string]record[api.DocumentItem]),
		categories:   make(map[string]record[api.Category]),
		entities:     make(map[string]record[api.Entity]),
	}
}

var _ api.Store = (*Store)(nil)

// Stats returns the number of stored rows per collection.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]int{
		api.CollectionObligations:      len(s.obligations),
		api.CollectionRecurrencePlans:  len(s.recurrence),
		api.CollectionInstallmentPlans: len(s.installments),
		api.CollectionDocuments:        len(s.documents),
		api.CollectionDocumentItems:    len(s.items),
		api.CollectionCategories:       len(s.categories),
		api.CollectionEntities:         len(s.entities),
	}
}

func (s *Store) next() int {
	s.seq++
	return s.seq
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func owned[T any](m map[string]record[T], ownerOf func(T) string, ownerID, id string) (record[T], bool) {
	r, ok := m[id]
	if !ok || ownerOf(r.v) != ownerID {
		return record[T]{}, false
	}
	return r, true
}

func sorted[T any](m map[string]record[T], keep func(T) bool) []record[T] {
	var out []record[T]
	for _, r := range m {
		if keep(r.v) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b record[T]) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// Obligations.

func (s *Store) checkObligation(o *api.Obligation) error {
	owner := o.OwnerID
	if !o.Amount.IsPositive() {
		return errors.New("obligations: amount must be positive")
	}
	if o.RecurrencePlanID != nil && o.InstallmentPlanID != nil {
		return errors.New("obligations: at most one plan reference may be set")
	}
	if o.RecurrencePlanID != nil {
		if _, ok := owned(s.recurrence, func(p api.RecurrencePlan) string { return p.OwnerID }, owner, *o.RecurrencePlanID); !ok {
			return fmt.Errorf("obligations: recurrence plan %s does not exist", *o.RecurrencePlanID)
		}
	}
	if o.InstallmentPlanID != nil {
		if _, ok := owned(s.installments, func(p api.InstallmentPlan) string { return p.OwnerID }, owner, *o.InstallmentPlanID); !ok {
			return fmt.Errorf("obligations: installment plan %s does not exist", *o.InstallmentPlanID)
		}
	}
	if o.CategoryID != nil {
		if _, ok := owned(s.categories, func(c api.Category) string { return c.OwnerID }, owner, *o.CategoryID); !ok {
			return fmt.Errorf("obligations: category %s does not exist", *o.CategoryID)
		}
	}
	if o.EntityID != nil {
		if _, ok := owned(s.entities, func(e api.Entity) string { return e.OwnerID }, owner, *o.EntityID); !ok {
			return fmt.Errorf("obligations: entity %s does not exist", *o.EntityID)
		}
	}
	return nil
}

func (s *Store) InsertObligation(ctx context.Context, o *api.Obligation) (string, error) {
	ids, err := s.InsertObligations(ctx, []*api.Obligation{o})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *Store) InsertObligations(_ context.Context, obligations []*api.Obligation) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range obligations {
		if err := s.checkObligation(o); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(obligations))
	for _, o := range obligations {
		row := *o
		row.ID = newID(o.ID)
		if row.CreatedAt.IsZero() {
			row.CreatedAt = s.now()
		}
		s.obligations[row.ID] = record[api.Obligation]{seq: s.next(), v: row}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (s *Store) UpdateObligation(_ context.Context, ownerID, id string, patch api.ObligationPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := owned(s.obligations, func(o api.Obligation) string { return o.OwnerID }, ownerID, id)
	if !ok {
		return fmt.Errorf("obligation %s: %w", id, api.ErrNotFound)
	}
	patch.Apply(&r.v)
	if err := s.checkObligation(&r.v); err != nil {
		return err
	}
	s.obligations[id] = r
	return nil
}

func (s *Store) DeleteObligation(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := owned(s.obligations, func(o api.Obligation) string { return o.OwnerID }, ownerID, id); !ok {
		return fmt.Errorf("obligation %s: %w", id, api.ErrNotFound)
	}
	delete(s.obligations, id)

	for docID, d := range s.documents {
		if d.v.ObligationID == id {
			s.deleteDocumentLocked(docID)
		}
	}
	for planID, p := range s.recurrence {
		if p.v.OriginObligationID == id {
			delete(s.recurrence, planID)
			s.clearRefsLocked(func(o *api.Obligation) **string { return &o.RecurrencePlanID }, planID)
		}
	}
	for planID, p := range s.installments {
		if p.v.OriginObligationID == id {
			delete(s.installments, planID)
			s.clearRefsLocked(func(o *api.Obligation) **string { return &o.InstallmentPlanID }, planID)
		}
	}
	return nil
}

// clearRefsLocked nils the reference selected by field wherever it points at target.
func (s *Store) clearRefsLocked(field func(*api.Obligation) **string, target string) {
	for id, r := range s.obligations {
		ref := field(&r.v)
		if *ref != nil && **ref == target {
			*ref = nil
			s.obligations[id] = r
		}
	}
}

func (s *Store) GetObligation(_ context.Context, ownerID, id string) (*api.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := owned(s.obligations, func(o api.Obligation) string { return o.OwnerID }, ownerID, id)
	if !ok {
		return nil, fmt.Errorf("obligation %s: %w", id, api.ErrNotFound)
	}
	o := r.v
	return &o, nil
}

// ListObligations returns the owner's obligations ordered by date, then insertion.
func (s *Store) ListObligations(_ context.Context, ownerID string, filter api.ObligationFilter) ([]*api.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := sorted(s.obligations, func(o api.Obligation) bool {
		return o.OwnerID == ownerID && filter.Matches(&o)
	})
	slices.SortStableFunc(rows, func(a, b record[api.Obligation]) int { return a.v.Date.Compare(b.v.Date) })

	out := make([]*api.Obligation, len(rows))
	for i, r := range rows {
		o := r.v
		out[i] = &o
	}
	return out, nil
}

// Plans.

func (s *Store) InsertRecurrencePlan(_ context.Context, p *api.RecurrencePlan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.obligations[p.OriginObligationID]; !ok {
		return "", fmt.Errorf("recurrence_plans: origin obligation %s does not exist", p.OriginObligationID)
	}
	if p.IntervalValue <= 0 {
		return "", errors.New("recurrence_plans: interval must be positive")
	}
	row := *p
	row.ID = newID(p.ID)
	s.recurrence[row.ID] = record[api.RecurrencePlan]{seq: s.next(), v: row}
	return row.ID, nil
}

func (s *Store) InsertInstallmentPlan(_ context.Context, p *api.InstallmentPlan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.obligations[p.OriginObligationID]; !ok {
		return "", fmt.Errorf("installment_plans: origin obligation %s does not exist", p.OriginObligationID)
	}
	if p.Count < 2 {
		return "", errors.New("installment_plans: count must be at least 2")
	}
	row := *p
	row.ID = newID(p.ID)
	s.installments[row.ID] = record[api.InstallmentPlan]{seq: s.next(), v: row}
	return row.ID, nil
}

// Documents.

func (s *Store) InsertDocument(_ context.Context, d *api.FiscalDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.obligations[d.ObligationID]; !ok {
		return "", fmt.Errorf("documents: obligation %s does not exist", d.ObligationID)
	}
	row := *d
	row.ID = newID(d.ID)
	s.documents[row.ID] = record[api.FiscalDocument]{seq: s.next(), v: row}
	return row.ID, nil
}

func (s *Store) DeleteDocument(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := owned(s.documents, func(d api.FiscalDocument) string { return d.OwnerID }, ownerID, id); !ok {
		return fmt.Errorf("document %s: %w", id, api.ErrNotFound)
	}
	s.deleteDocumentLocked(id)
	return nil
}

func (s *Store) deleteDocumentLocked(id string) {
	delete(s.documents, id)
	for itemID, it := range s.items {
		if it.v.DocumentID == id {
			delete(s.items, itemID)
		}
	}
}

func (s *Store) InsertDocumentItems(_ context.Context, items []*api.DocumentItem) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		if _, ok := s.documents[it.DocumentID]; !ok {
			return nil, fmt.Errorf("document_items: document %s does not exist", it.DocumentID)
		}
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		row := *it
		row.ID = newID(it.ID)
		s.items[row.ID] = record[api.DocumentItem]{seq: s.next(), v: row}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (s *Store) ListItemsByObligation(_ context.Context, ownerID, obligationID string) ([]*api.DocumentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make(map[string]bool)
	for id, d := range s.documents {
		if d.v.OwnerID == ownerID && d.v.ObligationID == obligationID {
			docs[id] = true
		}
	}

	rows := sorted(s.items, func(it api.DocumentItem) bool { return docs[it.DocumentID] })
	out := make([]*api.DocumentItem, len(rows))
	for i, r := range rows {
		it := r.v
		out[i] = &it
	}
	return out, nil
}

// Registries.

func (s *Store) InsertCategory(_ context.Context, c *api.Category) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *c
	row.ID = newID(c.ID)
	s.categories[row.ID] = record[api.Category]{seq: s.next(), v: row}
	return row.ID, nil
}

func (s *Store) DeleteCategory(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := owned(s.categories, func(c api.Category) string { return c.OwnerID }, ownerID, id); !ok {
		return fmt.Errorf("category %s: %w", id, api.ErrNotFound)
	}
	delete(s.categories, id)
	s.clearRefsLocked(func(o *api.Obligation) **string { return &o.CategoryID }, id)
	return nil
}

func (s *Store) ListCategories(_ context.Context, ownerID string) ([]*api.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := sorted(s.categories, func(c api.Category) bool { return c.OwnerID == ownerID })
	out := make([]*api.Category, len(rows))
	for i, r := range rows {
		c := r.v
		out[i] = &c
	}
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, ownerID, id string) (*api.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := owned(s.categories, func(c api.Category) string { return c.OwnerID }, ownerID, id)
	if !ok {
		return nil, fmt.Errorf("category %s: %w", id, api.ErrNotFound)
	}
	c := r.v
	return &c, nil
}

func (s *Store) InsertEntity(_ context.Context, e *api.Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *e
	row.ID = newID(e.ID)
	s.entities[row.ID] = record[api.Entity]{seq: s.next(), v: row}
	return row.ID, nil
}

func (s *Store) DeleteEntity(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := owned(s.entities, func(e api.Entity) string { return e.OwnerID }, ownerID, id); !ok {
		return fmt.Errorf("entity %s: %w", id, api.ErrNotFound)
	}
	delete(s.entities, id)
	s.clearRefsLocked(func(o *api.Obligation) **string { return &o.EntityID }, id)
	return nil
}

func (s *Store) ListEntities(_ context.Context, ownerID string) ([]*api.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := sorted(s.entities, func(e api.Entity) bool { return e.OwnerID == ownerID })
	out := make([]*api.Entity, len(rows))
	for i, r := range rows {
		e := r.v
		out[i] = &e
	}
	return out, nil
}

func (s *Store) GetEntity(_ context.Context, ownerID, id string) (*api.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := owned(s.entities, func(e api.Entity) string { return e.OwnerID }, ownerID, id)
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, api.ErrNotFound)
	}
	e := r.v
	return &e, nil
}
