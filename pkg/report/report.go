// Package report summarises obligations for the dashboard.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
)

// Commitment window around the current month.
const (
	MonthsBefore = 3
	MonthsAfter  = 8
)

// Service builds summaries from stored obligations.
type Service struct {
	store api.ObligationStore
}

// New creates a new report service.
func New(store api.ObligationStore) *Service {
	return &Service{store: store}
}

// MonthSummary totals one calendar month.
type MonthSummary struct {
	Year        int               `json:"year"`
	Month       time.Month        `json:"month"`
	Confirmed   decimal.Decimal   `json:"confirmed"`
	Projected   decimal.Decimal   `json:"projected"`
	Obligations []*api.Obligation `json:"obligations"`
}

// Bucket is the projected total of one month.
type Bucket struct {
	Month     calendar.Date   `json:"month"`
	Projected decimal.Decimal `json:"projected"`
}

// Month lists and totals the owner's obligations dated within the given month.
func (s *Service) Month(ctx context.Context, ownerID string, year int, month time.Month) (*MonthSummary, error) {
	if month < time.January || month > time.December {
		return nil, &api.ValidationError{Fields: map[string]string{"month": "must be between 1 and 12"}}
	}

	start := calendar.New(year, month, 1)
	obligations, err := s.store.ListObligations(ctx, ownerID, api.ObligationFilter{From: start, To: start.MonthEnd()})
	if err != nil {
		return nil, &api.PersistenceError{Op: "listing obligations", Err: err}
	}

	summary := &MonthSummary{
		Year:        year,
		Month:       month,
		Confirmed:   decimal.Zero,
		Projected:   decimal.Zero,
		Obligations: obligations,
	}
	for _, o := range obligations {
		switch o.Status {
		case api.StatusConfirmed:
			summary.Confirmed = summary.Confirmed.Add(o.Amount)
		case api.StatusProjected:
			summary.Projected = summary.Projected.Add(o.Amount)
		}
	}
	return summary, nil
}

// Commitments returns projected totals for the months from MonthsBefore before
// today's month through MonthsAfter after it.
func (s *Service) Commitments(ctx context.Context, ownerID string, today calendar.Date) ([]Bucket, error) {
	first := today.MonthStart().AddMonths(-MonthsBefore)
	last := today.MonthStart().AddMonths(MonthsAfter).MonthEnd()

	obligations, err := s.store.ListObligations(ctx, ownerID, api.ObligationFilter{
		From:   first,
		To:     last,
		Status: api.StatusProjected,
	})
	if err != nil {
		return nil, &api.PersistenceError{Op: "listing obligations", Err: err}
	}

	buckets := make([]Bucket, MonthsBefore+MonthsAfter+1)
	index := make(map[string]int, len(buckets))
	for i := range buckets {
		m := first.AddMonths(i)
		buckets[i] = Bucket{Month: m, Projected: decimal.Zero}
		index[monthKey(m)] = i
	}

	for _, o := range obligations {
		i, ok := index[monthKey(o.Date)]
		if !ok {
			continue
		}
		buckets[i].Projected = buckets[i].Projected.Add(o.Amount)
	}
	return buckets, nil
}

func monthKey(d calendar.Date) string {
	return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
}
