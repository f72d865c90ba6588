package events

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
	"github.com/ArionMiles/obligations/pkg/money"
)

// Form is the manual-entry submission as the UI sends it: every value is a raw string.
type Form struct {
	Amount        string `json:"amount"`
	Date          string `json:"date"`
	Description   string `json:"description"`
	CategoryID    string `json:"category_id"`
	EntityID      string `json:"entity_id"`
	PaymentMethod string `json:"payment_method"`

	Recurring     bool   `json:"recurring"`
	IntervalValue string `json:"interval_value"`
	IntervalUnit  string `json:"interval_unit"`
	EndDate       string `json:"end_date"`

	Installment       bool   `json:"installment"`
	InstallmentCount  string `json:"installment_count"`
	InstallmentAmount string `json:"installment_amount"`
}

// Draft is a validated Form with typed values.
type Draft struct {
	Amount        decimal.Decimal
	Date          calendar.Date
	Description   string
	CategoryID    *string
	EntityID      *string
	PaymentMethod api.PaymentMethod

	Recurrence  *RecurrenceDraft
	Installment *InstallmentDraft
}

// RecurrenceDraft is the validated recurring subflow.
type RecurrenceDraft struct {
	IntervalValue int
	IntervalUnit  api.IntervalUnit
	EndDate       calendar.Date
}

// InstallmentDraft is the validated installment subflow. The draft Amount is the purchase total.
type InstallmentDraft struct {
	Count  int
	Amount decimal.Decimal
}

// Validate converts the form into a Draft, reporting every rejected field at once.
func (f Form) Validate() (*Draft, error) {
	verr := api.NewValidationError()
	d := &Draft{
		Description: strings.TrimSpace(f.Description),
		CategoryID:  optional(f.CategoryID),
		EntityID:    optional(f.EntityID),
	}

	if amount, err := money.ParseInput(f.Amount); err != nil {
		verr.Add("amount", "must be a valid amount")
	} else if !amount.IsPositive() {
		verr.Add("amount", "must be greater than zero")
	} else if !money.IsCents(amount) {
		verr.Add("amount", "must have at most two decimal places")
	} else {
		d.Amount = amount
	}

	if date, err := calendar.Parse(strings.TrimSpace(f.Date)); err != nil {
		verr.Add("date", "must be a date in YYYY-MM-DD format")
	} else {
		d.Date = date
	}

	if strings.TrimSpace(f.PaymentMethod) == "" {
		verr.Add("payment_method", "required")
	} else if pm, err := api.ParsePaymentMethod(f.PaymentMethod); err != nil {
		verr.Add("payment_method", "unknown payment method")
	} else {
		d.PaymentMethod = pm
	}

	if f.Recurring && f.Installment {
		verr.Add("installment", "cannot be combined with a recurring obligation")
	}

	if f.Recurring {
		d.Recurrence = f.validateRecurrence(verr, d.Date)
	}
	if f.Installment {
		d.Installment = f.validateInstallment(verr)
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return d, nil
}

func (f Form) validateRecurrence(verr *api.ValidationError, start calendar.Date) *RecurrenceDraft {
	r := &RecurrenceDraft{}

	if n, err := strconv.Atoi(strings.TrimSpace(f.IntervalValue)); err != nil || n <= 0 {
		verr.Add("interval_value", "must be a positive whole number")
	} else {
		r.IntervalValue = n
	}

	if unit, err := api.ParseIntervalUnit(f.IntervalUnit); err != nil {
		verr.Add("interval_unit", "must be one of day, week, month, year")
	} else {
		r.IntervalUnit = unit
	}

	if strings.TrimSpace(f.EndDate) == "" {
		verr.Add("end_date", "required for recurring obligations")
	} else if end, err := calendar.Parse(strings.TrimSpace(f.EndDate)); err != nil {
		verr.Add("end_date", "must be a date in YYYY-MM-DD format")
	} else if !start.IsZero() && end.Before(start) {
		verr.Add("end_date", "must not be before the date")
	} else {
		r.EndDate = end
	}

	return r
}

func (f Form) validateInstallment(verr *api.ValidationError) *InstallmentDraft {
	in := &InstallmentDraft{}

	if n, err := strconv.Atoi(strings.TrimSpace(f.InstallmentCount)); err != nil || n < 2 {
		verr.Add("installment_count", "must be at least 2")
	} else {
		in.Count = n
	}

	if amount, err := money.ParseInput(f.InstallmentAmount); err != nil || !amount.IsPositive() {
		verr.Add("installment_amount", "must be greater than zero")
	} else if !money.IsCents(amount) {
		verr.Add("installment_amount", "must have at most two decimal places")
	} else {
		in.Amount = amount
	}

	return in
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// UpdateForm edits the fields of an existing obligation that may change after creation.
// Nil fields are left unchanged; an empty category or entity clears it.
type UpdateForm struct {
	Description   *string `json:"description"`
	CategoryID    *string `json:"category_id"`
	EntityID      *string `json:"entity_id"`
	PaymentMethod *string `json:"payment_method"`
}

// Patch validates the form and converts it into a store patch.
func (f UpdateForm) Patch() (api.ObligationPatch, error) {
	verr := api.NewValidationError()
	patch := api.ObligationPatch{}

	if f.Description != nil {
		desc := strings.TrimSpace(*f.Description)
		patch.Description = &desc
	}
	if f.CategoryID != nil {
		id := strings.TrimSpace(*f.CategoryID)
		patch.CategoryID = &id
	}
	if f.EntityID != nil {
		id := strings.TrimSpace(*f.EntityID)
		patch.EntityID = &id
	}
	if f.PaymentMethod != nil {
		pm, err := api.ParsePaymentMethod(*f.PaymentMethod)
		if err != nil {
			verr.Add("payment_method", "unknown payment method")
		} else {
			patch.PaymentMethod = &pm
		}
	}

	if patch.Empty() && verr.Empty() {
		verr.Add("body", "no fields to update")
	}
	return patch, verr.OrNil()
}
