// Package schedule expands one declared obligation into its dated series of projected occurrences.
package schedule

import (
	"fmt"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
)

// MaxOccurrences caps how many projected obligations one recurrence plan may generate.
const MaxOccurrences = 360

// RecurringSuffix is appended to the description of generated recurring obligations.
const RecurringSuffix = "(Assinatura)"

// Step returns start advanced by k intervals of value units.
// Month and year steps clamp to the target month length.
func Step(start calendar.Date, k, value int, unit api.IntervalUnit) calendar.Date {
	n := k * value
	switch unit {
	case api.UnitDay:
		return start.AddDays(n)
	case api.UnitWeek:
		return start.AddDays(n * 7)
	case api.UnitMonth:
		return start.AddMonths(n)
	case api.UnitYear:
		return start.AddYears(n)
	}
	return start
}

// Dates lists the occurrence dates after start, up to and including end, capped at MaxOccurrences.
func Dates(start, end calendar.Date, value int, unit api.IntervalUnit) []calendar.Date {
	if value <= 0 || end.Before(start) {
		return nil
	}
	var dates []calendar.Date
	for k := 1; k <= MaxOccurrences; k++ {
		next := Step(start, k, value, unit)
		if next.After(end) || !next.After(start) {
			break
		}
		dates = append(dates, next)
	}
	return dates
}

// Recurring builds the projected obligations that follow origin under plan.
// The origin itself is not included.
func Recurring(origin *api.Obligation, plan *api.RecurrencePlan) []*api.Obligation {
	dates := Dates(origin.Date, plan.EndDate, plan.IntervalValue, plan.IntervalUnit)
	out := make([]*api.Obligation, 0, len(dates))

	description := RecurringSuffix
	if origin.Description != "" {
		description = origin.Description + " " + RecurringSuffix
	}

	for _, d := range dates {
		o := derive(origin, d)
		o.Amount = plan.ExpectedAmount
		o.Description = description
		o.RecurrencePlanID = ptr(plan.ID)
		out = append(out, o)
	}
	return out
}

// Installments builds installments 2..Count of plan, one month apart from origin.
func Installments(origin *api.Obligation, plan *api.InstallmentPlan, baseDescription string) []*api.Obligation {
	if plan.Count < 2 {
		return nil
	}
	out := make([]*api.Obligation, 0, plan.Count-1)
	for i := 2; i <= plan.Count; i++ {
		o := derive(origin, origin.Date.AddMonths(i-1))
		o.Amount = plan.InstallmentAmount
		o.Description = InstallmentDescription(baseDescription, i, plan.Count)
		o.InstallmentPlanID = ptr(plan.ID)
		o.InstallmentNumber = ptr(i)
		out = append(out, o)
	}
	return out
}

// InstallmentDescription renders "desc (i/n)", or "(i/n)" when desc is empty.
func InstallmentDescription(desc string, i, n int) string {
	if desc == "" {
		return fmt.Sprintf("(%d/%d)", i, n)
	}
	return fmt.Sprintf("%s (%d/%d)", desc, i, n)
}

func derive(origin *api.Obligation, date calendar.Date) *api.Obligation {
	return &api.Obligation{
		OwnerID:       origin.OwnerID,
		Date:          date,
		CategoryID:    origin.CategoryID,
		EntityID:      origin.EntityID,
		PaymentMethod: origin.PaymentMethod,
		Source:        origin.Source,
		Status:        api.StatusProjected,
	}
}

func ptr[T any](v T) *T {
	return &v
}
