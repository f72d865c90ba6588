package api

import (
	"fmt"
	"strings"
)

// PaymentMethod is the closed set of payment instruments.
type PaymentMethod string

const (
	PaymentCredit          PaymentMethod = "credit"
	PaymentDebit           PaymentMethod = "debit"
	PaymentInstantTransfer PaymentMethod = "instant_transfer"
	PaymentCash            PaymentMethod = "cash"
	PaymentBill            PaymentMethod = "bill"
	PaymentOther           PaymentMethod = "other"
)

var paymentAliases = map[string]PaymentMethod{
	"credit":           PaymentCredit,
	"credito":          PaymentCredit,
	"debit":            PaymentDebit,
	"debito":           PaymentDebit,
	"instant_transfer": PaymentInstantTransfer,
	"pix":              PaymentInstantTransfer,
	"cash":             PaymentCash,
	"dinheiro":         PaymentCash,
	"bill":             PaymentBill,
	"boleto":           PaymentBill,
	"other":            PaymentOther,
	"outro":            PaymentOther,
}

// ParsePaymentMethod accepts the canonical tags and their Portuguese equivalents.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	if pm, ok := paymentAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return pm, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// Valid reports whether pm is one of the defined payment methods.
func (pm PaymentMethod) Valid() bool {
	switch pm {
	case PaymentCredit, PaymentDebit, PaymentInstantTransfer, PaymentCash, PaymentBill, PaymentOther:
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pm *PaymentMethod) UnmarshalText(b []byte) error {
	parsed, err := ParsePaymentMethod(string(b))
	if err != nil {
		return err
	}
	*pm = parsed
	return nil
}

// Source records how an obligation was originated.
type Source string

const (
	SourceManual   Source = "manual"
	SourceDocument Source = "document"
)

// Status distinguishes user-created records from generated future ones.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusProjected Status = "projected"
)

// ParseStatus parses a status tag.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusProjected:
		return StatusProjected, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// IntervalUnit is the step of a recurrence plan.
type IntervalUnit string

const (
	UnitDay   IntervalUnit = "day"
	UnitWeek  IntervalUnit = "week"
	UnitMonth IntervalUnit = "month"
	UnitYear  IntervalUnit = "year"
)

var unitAliases = map[string]IntervalUnit{
	"day":    UnitDay,
	"dia":    UnitDay,
	"week":   UnitWeek,
	"semana": UnitWeek,
	"month":  UnitMonth,
	"mes":    UnitMonth,
	"mês":    UnitMonth,
	"year":   UnitYear,
	"ano":    UnitYear,
}

// ParseIntervalUnit accepts the canonical units and their Portuguese equivalents.
func ParseIntervalUnit(s string) (IntervalUnit, error) {
	if u, ok := unitAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return u, nil
	}
	return "", fmt.Errorf("unknown interval unit %q", s)
}
