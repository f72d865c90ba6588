// Package events creates obligations from manual entry, expanding recurring and installment subflows.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/registry"
	"github.com/ArionMiles/obligations/pkg/schedule"
)

// Service creates and edits manually entered obligations.
type Service struct {
	store  api.Store
	logger *slog.Logger
}

// New creates a new event service.
func New(store api.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "events"),
	}
}

// Result describes a created obligation.
type Result struct {
	ObligationID string `json:"obligation_id"`
	// Generated counts the projected obligations written by the schedule engine.
	Generated int `json:"generated"`
	// ScheduleErr is set when the origin was stored but its plan or series was not.
	// The origin is not rolled back.
	ScheduleErr error `json:"-"`
}

// Create validates form and stores the origin obligation and, for recurring or
// installment entries, its plan and projected series.
func (s *Service) Create(ctx context.Context, ownerID string, form Form) (*Result, error) {
	if ownerID == "" {
		return nil, &api.ValidationError{Fields: map[string]string{"owner": "required"}}
	}

	draft, err := form.Validate()
	if err != nil {
		return nil, err
	}
	verr := api.NewValidationError()
	if err := registry.CheckReferences(ctx, s.store, ownerID, draft.CategoryID, draft.EntityID, verr); err != nil {
		return nil, err
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	origin := &api.Obligation{
		OwnerID:       ownerID,
		Amount:        draft.Amount,
		Date:          draft.Date,
		Description:   draft.Description,
		CategoryID:    draft.CategoryID,
		EntityID:      draft.EntityID,
		PaymentMethod: draft.PaymentMethod,
		Source:        api.SourceManual,
		Status:        api.StatusConfirmed,
	}
	if in := draft.Installment; in != nil {
		origin.Amount = in.Amount
		origin.Description = schedule.InstallmentDescription(draft.Description, 1, in.Count)
		origin.InstallmentNumber = ptr(1)
	}

	id, err := s.store.InsertObligation(ctx, origin)
	if err != nil {
		return nil, &api.PersistenceError{Op: "inserting obligation", Err: err}
	}
	origin.ID = id

	result := &Result{ObligationID: id}

	switch {
	case draft.Recurrence != nil:
		result.Generated, result.ScheduleErr = s.expandRecurring(ctx, origin, draft)
	case draft.Installment != nil:
		result.Generated, result.ScheduleErr = s.expandInstallments(ctx, origin, draft)
	}

	if result.ScheduleErr != nil {
		s.logger.Warn("obligation stored without its full schedule",
			"obligation_id", id,
			"owner_id", ownerID,
			"error", result.ScheduleErr,
		)
	} else {
		s.logger.Info("obligation created",
			"obligation_id", id,
			"owner_id", ownerID,
			"generated", result.Generated,
		)
	}

	return result, nil
}

func (s *Service) expandRecurring(ctx context.Context, origin *api.Obligation, draft *Draft) (int, error) {
	r := draft.Recurrence
	plan := &api.RecurrencePlan{
		OwnerID:            origin.OwnerID,
		OriginObligationID: origin.ID,
		IntervalValue:      r.IntervalValue,
		IntervalUnit:       r.IntervalUnit,
		ExpectedAmount:     draft.Amount,
		StartDate:          origin.Date,
		EndDate:            r.EndDate,
		Active:             true,
	}

	planID, err := s.store.InsertRecurrencePlan(ctx, plan)
	if err != nil {
		return 0, &api.PersistenceError{Op: "inserting recurrence plan", Err: err}
	}
	plan.ID = planID

	if err := s.store.UpdateObligation(ctx, origin.OwnerID, origin.ID, api.ObligationPatch{RecurrencePlanID: &planID}); err != nil {
		return 0, &api.PersistenceError{Op: "linking recurrence plan", Err: err}
	}

	return s.insertSeries(ctx, schedule.Recurring(origin, plan))
}

func (s *Service) expandInstallments(ctx context.Context, origin *api.Obligation, draft *Draft) (int, error) {
	in := draft.Installment
	plan := &api.InstallmentPlan{
		OwnerID:            origin.OwnerID,
		OriginObligationID: origin.ID,
		TotalAmount:        draft.Amount,
		Count:              in.Count,
		InstallmentAmount:  in.Amount,
		StartDate:          origin.Date,
	}

	planID, err := s.store.InsertInstallmentPlan(ctx, plan)
	if err != nil {
		return 0, &api.PersistenceError{Op: "inserting installment plan", Err: err}
	}
	plan.ID = planID

	if err := s.store.UpdateObligation(ctx, origin.OwnerID, origin.ID, api.ObligationPatch{InstallmentPlanID: &planID}); err != nil {
		return 0, &api.PersistenceError{Op: "linking installment plan", Err: err}
	}

	return s.insertSeries(ctx, schedule.Installments(origin, plan, draft.Description))
}

func (s *Service) insertSeries(ctx context.Context, series []*api.Obligation) (int, error) {
	if len(series) == 0 {
		return 0, nil
	}
	ids, err := s.store.InsertObligations(ctx, series)
	if err != nil {
		return 0, &api.PersistenceError{Op: "inserting projected obligations", Err: err}
	}
	return len(ids), nil
}

// Update edits description, category, entity and payment method of an obligation.
func (s *Service) Update(ctx context.Context, ownerID, id string, form UpdateForm) (*api.Obligation, error) {
	patch, err := form.Patch()
	if err != nil {
		return nil, err
	}
	verr := api.NewValidationError()
	if err := registry.CheckReferences(ctx, s.store, ownerID, patch.CategoryID, patch.EntityID, verr); err != nil {
		return nil, err
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateObligation(ctx, ownerID, id, patch); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, fmt.Errorf("updating obligation: %w", err)
		}
		return nil, &api.PersistenceError{Op: "updating obligation", Err: err}
	}

	o, err := s.store.GetObligation(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("reloading obligation: %w", err)
	}
	return o, nil
}

func ptr[T any](v T) *T {
	return &v
}
