// Package api defines the core domain types and storage contracts for obligations.
package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/calendar"
)

// Collection names used in logs and persistence errors.
const (
	CollectionObligations      = "obligations"
	CollectionRecurrencePlans  = "recurrence_plans"
	CollectionInstallmentPlans = "installment_plans"
	CollectionDocuments        = "documents"
	CollectionDocumentItems    = "document_items"
	CollectionCategories       = "categories"
	CollectionEntities         = "entities"
)

// Obligation is a single dated, amount-bearing financial record.
type Obligation struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          calendar.Date   `json:"date"`
	Description   string          `json:"description,omitempty"`
	CategoryID    *string         `json:"category_id,omitempty"`
	EntityID      *string         `json:"entity_id,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Source        Source          `json:"source"`
	Status        Status          `json:"status"`

	// At most one of the plan references is set.
	RecurrencePlanID  *string `json:"recurrence_plan_id,omitempty"`
	InstallmentPlanID *string `json:"installment_plan_id,omitempty"`
	// InstallmentNumber is the 1-based position inside an installment plan.
	InstallmentNumber *int `json:"installment_number,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// ObligationPatch describes a partial update. Nil fields are left untouched;
// an empty string in a reference field clears it.
type ObligationPatch struct {
	Description       *string
	CategoryID        *string
	EntityID          *string
	PaymentMethod     *PaymentMethod
	RecurrencePlanID  *string
	InstallmentPlanID *string
}

// Empty reports whether the patch changes nothing.
func (p ObligationPatch) Empty() bool {
	return p.Description == nil && p.CategoryID == nil && p.EntityID == nil &&
		p.PaymentMethod == nil && p.RecurrencePlanID == nil && p.InstallmentPlanID == nil
}

// Apply writes the patch onto o.
func (p ObligationPatch) Apply(o *Obligation) {
	if p.Description != nil {
		o.Description = *p.Description
	}
	if p.PaymentMethod != nil {
		o.PaymentMethod = *p.PaymentMethod
	}
	applyRef(&o.CategoryID, p.CategoryID)
	applyRef(&o.EntityID, p.EntityID)
	applyRef(&o.RecurrencePlanID, p.RecurrencePlanID)
	applyRef(&o.InstallmentPlanID, p.InstallmentPlanID)
}

func applyRef(dst **string, v *string) {
	switch {
	case v == nil:
	case *v == "":
		*dst = nil
	default:
		id := *v
		*dst = &id
	}
}

// ObligationFilter narrows ListObligations. Zero values do not filter.
type ObligationFilter struct {
	From   calendar.Date
	To     calendar.Date
	Status Status
}

// Matches reports whether o satisfies the filter.
func (f ObligationFilter) Matches(o *Obligation) bool {
	if !f.From.IsZero() && o.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && o.Date.After(f.To) {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

// RecurrencePlan generates a bounded series of periodic obligations from one origin.
type RecurrencePlan struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"owner_id"`
	OriginObligationID string          `json:"origin_obligation_id"`
	IntervalValue      int             `json:"interval_value"`
	IntervalUnit       IntervalUnit    `json:"interval_unit"`
	ExpectedAmount     decimal.Decimal `json:"expected_amount"`
	StartDate          calendar.Date   `json:"start_date"`
	EndDate            calendar.Date   `json:"end_date"`
	Active             bool            `json:"active"`
}

// InstallmentPlan splits a purchase into a fixed number of equal obligations.
// The origin obligation carries InstallmentAmount, not TotalAmount.
type InstallmentPlan struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"owner_id"`
	OriginObligationID string          `json:"origin_obligation_id"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Count              int             `json:"count"`
	InstallmentAmount  decimal.Decimal `json:"installment_amount"`
	StartDate          calendar.Date   `json:"start_date"`
}

// Fiscal document constants written by the ingestion flow.
const (
	DocumentKindLink       = "link"
	DocumentSourceNFCeHTML = "nfce-html"
	DocumentStatusDone     = "processed"
)

// FiscalDocument is the stored record of a scanned retailer receipt.
type FiscalDocument struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind"`
	// ExternalID is the 44-digit access key when one was found.
	ExternalID       *string `json:"external_id,omitempty"`
	RawText          string  `json:"raw_text"`
	RawPayload       string  `json:"-"`
	Source           string  `json:"source"`
	ProcessingStatus string  `json:"processing_status"`
}

// DocumentItem is one purchased line of a fiscal document.
type DocumentItem struct {
	ID          string           `json:"id"`
	OwnerID     string           `json:"owner_id"`
	DocumentID  string           `json:"document_id"`
	Description string           `json:"description"`
	SKU         *string          `json:"sku,omitempty"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	Unit        *string          `json:"unit,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	TotalPrice  *decimal.Decimal `json:"total_price,omitempty"`
	Raw         string           `json:"raw,omitempty"`
}

// Category groups obligations for reporting.
type Category struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}

// Entity is a counterparty (merchant, landlord, service provider).
type Entity struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
}

// ObligationStore persists obligations. Every call is scoped by owner.
type ObligationStore interface {
	InsertObligation(ctx context.Context, o *Obligation) (string, error)
	// InsertObligations writes all records in one call; either all are stored or none.
	InsertObligations(ctx context.Context, obligations []*Obligation) ([]string, error)
	UpdateObligation(ctx context.Context, ownerID, id string, patch ObligationPatch) error
	// DeleteObligation removes the obligation and, by cascade, its documents and their items.
	DeleteObligation(ctx context.Context, ownerID, id string) error
	GetObligation(ctx context.Context, ownerID, id string) (*Obligation, error)
	ListObligations(ctx context.Context, ownerID string, filter ObligationFilter) ([]*Obligation, error)
}

// PlanStore persists recurrence and installment plans.
type PlanStore interface {
	InsertRecurrencePlan(ctx context.Context, p *RecurrencePlan) (string, error)
	InsertInstallmentPlan(ctx context.Context, p *InstallmentPlan) (string, error)
}

// DocumentStore persists fiscal documents and their items.
type DocumentStore interface {
	InsertDocument(ctx context.Context, d *FiscalDocument) (string, error)
	// DeleteDocument removes the document and, by cascade, its items.
	DeleteDocument(ctx context.Context, ownerID, id string) error
	InsertDocumentItems(ctx context.Context, items []*DocumentItem) ([]string, error)
	ListItemsByObligation(ctx context.Context, ownerID, obligationID string) ([]*DocumentItem, error)
}

// RegistryStore persists categories and entities.
type RegistryStore interface {
	InsertCategory(ctx context.Context, c *Category) (string, error)
	DeleteCategory(ctx context.Context, ownerID, id string) error
	ListCategories(ctx context.Context, ownerID string) ([]*Category, error)
	GetCategory(ctx context.Context, ownerID, id string) (*Category, error)
	InsertEntity(ctx context.Context, e *Entity) (string, error)
	DeleteEntity(ctx context.Context, ownerID, id string) error
	ListEntities(ctx context.Context, ownerID string) ([]*Entity, error)
	GetEntity(ctx context.Context, ownerID, id string) (*Entity, error)
}

// Store is the full storage collaborator.
type Store interface {
	ObligationStore
	PlanStore
	DocumentStore
	RegistryStore
}
