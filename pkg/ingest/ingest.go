// Package ingest turns a scanned fiscal receipt URL into a stored obligation with its document and items.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
	"github.com/ArionMiles/obligations/pkg/client"
	"github.com/ArionMiles/obligations/pkg/money"
	"github.com/ArionMiles/obligations/pkg/parser/nfce"
	"github.com/ArionMiles/obligations/pkg/registry"
	"github.com/ArionMiles/obligations/pkg/saga"
)

// Saga step names, also used as the operation of a PersistenceError.
const (
	StepObligation = "inserting obligation"
	StepDocument   = "inserting document"
	StepItems      = "inserting document items"
)

// Service fetches, parses and stores fiscal documents.
type Service struct {
	fetcher client.Fetcher
	store   api.Store
	logger  *slog.Logger
}

// New creates a new ingestion service.
func New(fetcher client.Fetcher, store api.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher: fetcher,
		store:   store,
		logger:  logger.With("component", "ingest"),
	}
}

// Edits are the user's corrections to a preview. Nil fields keep the parsed value.
type Edits struct {
	Amount        *string `json:"amount"`
	Date          *string `json:"date"`
	Description   *string `json:"description"`
	CategoryID    *string `json:"category_id"`
	EntityID      *string `json:"entity_id"`
	PaymentMethod *string `json:"payment_method"`
	// Items replaces the parsed item list when set, including with an empty list.
	Items *[]nfce.Item `json:"items"`
}

// NormalizeURL trims the scanned value, drops embedded whitespace and requires an http(s) URL.
func NormalizeURL(raw string) (string, error) {
	cleaned := strings.Join(strings.Fields(raw), "")
	if cleaned == "" {
		return "", &api.ValidationError{Fields: map[string]string{"url": "required"}}
	}

	u, err := url.Parse(cleaned)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &api.ValidationError{Fields: map[string]string{"url": "must be an http or https URL"}}
	}
	return cleaned, nil
}

// Preview fetches and parses the page behind rawURL. Nothing is stored.
func (s *Service) Preview(ctx context.Context, rawURL string) (*nfce.Document, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	if !nfce.IsFiscalURL(target) {
		s.logger.Warn("url does not look like a fiscal receipt", "url", target)
	}

	resp, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		var upstream *api.UpstreamFetchError
		if errors.As(err, &upstream) {
			return nil, err
		}
		return nil, &api.UpstreamFetchError{URL: target, Err: err}
	}

	doc := nfce.Parse(resp.Body, target)
	if !doc.Usable() {
		return nil, &api.ExtractionError{Reason: "page has neither an access key nor a payable amount"}
	}

	s.logger.Info("document parsed",
		"url", target,
		"has_access_key", doc.AccessKey != nil,
		"has_payable", doc.Payable != nil,
		"items", len(doc.Items),
	)
	return doc, nil
}

type confirmed struct {
	amount        decimal.Decimal
	date          calendar.Date
	description   string
	categoryID    *string
	entityID      *string
	paymentMethod api.PaymentMethod
	items         []nfce.Item
}

// resolve merges edits over the parsed document and validates the result,
// including that category and entity belong to ownerID.
func (s *Service) resolve(ctx context.Context, ownerID string, doc *nfce.Document, edits Edits) (*confirmed, error) {
	verr := api.NewValidationError()
	c := &confirmed{
		paymentMethod: api.PaymentOther,
		items:         doc.Items,
		categoryID:    nonEmpty(edits.CategoryID),
		entityID:      nonEmpty(edits.EntityID),
	}

	switch {
	case edits.Amount != nil:
		if amount, err := money.ParseInput(*edits.Amount); err != nil || !amount.IsPositive() {
			verr.Add("amount", "must be greater than zero")
		} else if !money.IsCents(amount) {
			verr.Add("amount", "must have at most two decimal places")
		} else {
			c.amount = amount
		}
	case doc.Payable != nil && doc.Payable.IsPositive() && money.IsCents(*doc.Payable):
		c.amount = *doc.Payable
	default:
		verr.Add("amount", "must be greater than zero")
	}

	switch {
	case edits.Date != nil:
		if d, err := calendar.Parse(strings.TrimSpace(*edits.Date)); err != nil {
			verr.Add("date", "must be a date in YYYY-MM-DD format")
		} else {
			c.date = d
		}
	case doc.IssuedOn != nil:
		c.date = *doc.IssuedOn
	default:
		verr.Add("date", "required")
	}

	switch {
	case edits.Description != nil:
		c.description = strings.TrimSpace(*edits.Description)
	case doc.Merchant != nil:
		c.description = *doc.Merchant
	}

	switch {
	case edits.PaymentMethod != nil:
		if pm, err := api.ParsePaymentMethod(*edits.PaymentMethod); err != nil {
			verr.Add("payment_method", "unknown payment method")
		} else {
			c.paymentMethod = pm
		}
	case doc.PaymentMethod != nil:
		c.paymentMethod = *doc.PaymentMethod
	}

	if edits.Items != nil {
		c.items = *edits.Items
	}
	for i, it := range c.items {
		if strings.TrimSpace(it.Description) == "" {
			verr.Add(fmt.Sprintf("items[%d].description", i), "required")
		}
	}

	if err := registry.CheckReferences(ctx, s.store, ownerID, c.categoryID, c.entityID, verr); err != nil {
		return nil, err
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

// Confirm stores doc, as corrected by edits, as one obligation with its document
// and items. Either all three are stored or, after compensation, none are.
func (s *Service) Confirm(ctx context.Context, ownerID string, doc *nfce.Document, edits Edits) (string, error) {
	if ownerID == "" {
		return "", &api.ValidationError{Fields: map[string]string{"owner": "required"}}
	}

	c, err := s.resolve(ctx, ownerID, doc, edits)
	if err != nil {
		return "", err
	}

	obligation := &api.Obligation{
		OwnerID:       ownerID,
		Amount:        c.amount,
		Date:          c.date,
		Description:   c.description,
		CategoryID:    c.categoryID,
		EntityID:      c.entityID,
		PaymentMethod: c.paymentMethod,
		Source:        api.SourceDocument,
		Status:        api.StatusConfirmed,
	}
	document := &api.FiscalDocument{
		OwnerID:          ownerID,
		Kind:             api.DocumentKindLink,
		ExternalID:       doc.AccessKey,
		RawText:          doc.SourceURL,
		RawPayload:       doc.RawHTML,
		Source:           api.DocumentSourceNFCeHTML,
		ProcessingStatus: api.DocumentStatusDone,
	}

	var obligationID, documentID string

	sg := saga.New("ingest", s.logger).
		Add(saga.Step{
			Name: StepObligation,
			Do: func(ctx context.Context) error {
				id, err := s.store.InsertObligation(ctx, obligation)
				obligationID = id
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.store.DeleteObligation(ctx, ownerID, obligationID)
			},
		}).
		Add(saga.Step{
			Name: StepDocument,
			Do: func(ctx context.Context) error {
				document.ObligationID = obligationID
				id, err := s.store.InsertDocument(ctx, document)
				documentID = id
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.store.DeleteDocument(ctx, ownerID, documentID)
			},
		})

	if len(c.items) > 0 {
		sg.Add(saga.Step{
			Name: StepItems,
			Do: func(ctx context.Context) error {
				_, err := s.store.InsertDocumentItems(ctx, documentItems(ownerID, documentID, c.items))
				return err
			},
		})
	}

	if err := sg.Run(ctx); err != nil {
		var sagaErr *saga.Error
		if !errors.As(err, &sagaErr) {
			return "", &api.PersistenceError{Op: "ingesting document", Err: err}
		}
		s.logger.Error("ingestion rolled back",
			"owner_id", ownerID,
			"failed_step", sagaErr.Step,
			"compensated", sagaErr.Compensated,
			"error", sagaErr.Err,
		)
		cause := sagaErr.Err
		if sagaErr.Compensation != nil {
			// Compensation failures are reported, not unwrapped.
			cause = fmt.Errorf("%w (compensation failed: %v)", sagaErr.Err, sagaErr.Compensation)
			s.logger.Error("ingestion left residue", "owner_id", ownerID, "error", sagaErr.Compensation)
		}
		return "", &api.PersistenceError{Op: sagaErr.Step, Err: cause}
	}

	s.logger.Info("document ingested",
		"owner_id", ownerID,
		"obligation_id", obligationID,
		"document_id", documentID,
		"items", len(c.items),
	)
	return obligationID, nil
}

// Ingest previews rawURL and confirms it with edits in one call.
func (s *Service) Ingest(ctx context.Context, ownerID, rawURL string, edits Edits) (string, error) {
	doc, err := s.Preview(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return s.Confirm(ctx, ownerID, doc, edits)
}

func documentItems(ownerID, documentID string, items []nfce.Item) []*api.DocumentItem {
	out := make([]*api.DocumentItem, len(items))
	for i, it := range items {
		out[i] = &api.DocumentItem{
			OwnerID:     ownerID,
			DocumentID:  documentID,
			Description: strings.TrimSpace(it.Description),
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			Unit:        it.Unit,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
			Raw:         it.Raw,
		}
	}
	return out
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
