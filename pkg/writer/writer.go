// Package writer defines the obligation exporter contract and the columns shared by all formats.
package writer

import (
	"context"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
)

// Writer renders a list of obligations to out.
type Writer interface {
	Write(ctx context.Context, out io.Writer, obligations []*api.Obligation) error
	// ContentType is the MIME type of the rendered output.
	ContentType() string
	// Extension is the file extension, without the dot.
	Extension() string
}

// Headers are the column names of tabular exports.
var Headers = []string{
	"ID", "Date", "Description", "Amount", "Status", "Source",
	"Payment Method", "Category ID", "Entity ID", "Plan", "Installment",
}

// AmountColumn is the index of the amount in Headers.
const AmountColumn = 3

// Plan names the schedule an obligation belongs to, if any.
func Plan(o *api.Obligation) string {
	switch {
	case o.RecurrencePlanID != nil:
		return "recurring"
	case o.InstallmentPlanID != nil:
		return "installment"
	}
	return ""
}

// Record renders o as one row matching Headers. Amounts go through formatAmount.
func Record(o *api.Obligation, formatAmount func(decimal.Decimal) string) []string {
	installment := ""
	if o.InstallmentNumber != nil {
		installment = strconv.Itoa(*o.InstallmentNumber)
	}
	return []string{
		o.ID,
		o.Date.String(),
		o.Description,
		formatAmount(o.Amount),
		string(o.Status),
		string(o.Source),
		string(o.PaymentMethod),
		deref(o.CategoryID),
		deref(o.EntityID),
		Plan(o),
		installment,
	}
}

// PlainAmount renders d with two decimals and a dot separator.
func PlainAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
