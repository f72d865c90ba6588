package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
)

func obligation(owner, date, amount string) *api.Obligation {
	return &api.Obligation{
		OwnerID:       owner,
		Amount:        decimal.RequireFromString(amount),
		Date:          calendar.MustParse(date),
		PaymentMethod: api.PaymentOther,
		Source:        api.SourceManual,
		Status:        api.StatusConfirmed,
	}
}

func TestInsertAndList(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, o := range []*api.Obligation{
		obligation("u1", "2025-03-10", "10"),
		obligation("u1", "2025-01-05", "20"),
		obligation("u2", "2025-02-01", "30"),
	} {
		if _, err := s.InsertObligation(ctx, o); err != nil {
			t.Fatalf("InsertObligation: %v", err)
		}
	}

	got, err := s.ListObligations(ctx, "u1", api.ObligationFilter{})
	if err != nil {
		t.Fatalf("ListObligations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d obligations, want 2", len(got))
	}
	if got[0].Date.String() != "2025-01-05" || got[1].Date.String() != "2025-03-10" {
		t.Errorf("not ordered by date: %s, %s", got[0].Date, got[1].Date)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Errorf("id and created_at should be assigned: %+v", got[0])
	}

	filtered, _ := s.ListObligations(ctx, "u1", api.ObligationFilter{From: calendar.MustParse("2025-02-01")})
	if len(filtered) != 1 {
		t.Errorf("filtered: got %d, want 1", len(filtered))
	}
}

func TestInsertObligationsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()

	bad := obligation("u1", "2025-01-01", "0")
	_, err := s.InsertObligations(ctx, []*api.Obligation{obligation("u1", "2025-01-01", "10"), bad})
	if err == nil {
		t.Fatal("expected error for non-positive amount")
	}
	if n := s.Stats()[api.CollectionObligations]; n != 0 {
		t.Errorf("got %d rows after failed batch, want 0", n)
	}
}

func TestOwnerScoping(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, _ := s.InsertObligation(ctx, obligation("u1", "2025-01-01", "10"))

	if _, err := s.GetObligation(ctx, "u2", id); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("get as other owner: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteObligation(ctx, "u2", id); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("delete as other owner: got %v, want ErrNotFound", err)
	}
	desc := "hacked"
	if err := s.UpdateObligation(ctx, "u2", id, api.ObligationPatch{Description: &desc}); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("update as other owner: got %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := New()

	obID, _ := s.InsertObligation(ctx, obligation("u1", "2025-01-01", "10"))
	docID, err := s.InsertDocument(ctx, &api.FiscalDocument{OwnerID: "u1", ObligationID: obID, Kind: api.DocumentKindLink})
	if err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if _, err := s.InsertDocumentItems(ctx, []*api.DocumentItem{
		{OwnerID: "u1", DocumentID: docID, Description: "A"},
		{OwnerID: "u1", DocumentID: docID, Description: "B"},
	}); err != nil {
		t.Fatalf("InsertDocumentItems: %v", err)
	}

	items, _ := s.ListItemsByObligation(ctx, "u1", obID)
	if len(items) != 2 || items[0].Description != "A" {
		t.Fatalf("items: got %+v", items)
	}

	if err := s.DeleteDocument(ctx, "u1", docID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if n := s.Stats()[api.CollectionDocumentItems]; n != 0 {
		t.Errorf("items after document delete: got %d, want 0", n)
	}

	docID, _ = s.InsertDocument(ctx, &api.FiscalDocument{OwnerID: "u1", ObligationID: obID})
	_, _ = s.InsertDocumentItems(ctx, []*api.DocumentItem{{OwnerID: "u1", DocumentID: docID, Description: "C"}})

	if err := s.DeleteObligation(ctx, "u1", obID); err != nil {
		t.Fatalf("DeleteObligation: %v", err)
	}
	for collection, n := range s.Stats() {
		if n != 0 {
			t.Errorf("%s: got %d rows after obligation delete, want 0", collection, n)
		}
	}
}

func TestDeletingOriginDropsPlanAndClearsReferences(t *testing.T) {
	ctx := context.Background()
	s := New()

	originID, _ := s.InsertObligation(ctx, obligation("u1", "2025-01-01", "10"))
	planID, err := s.InsertRecurrencePlan(ctx, &api.RecurrencePlan{
		OwnerID: "u1", OriginObligationID: originID, IntervalValue: 1, IntervalUnit: api.UnitMonth,
	})
	if err != nil {
		t.Fatalf("InsertRecurrencePlan: %v", err)
	}

	projected := obligation("u1", "2025-02-01", "10")
	projected.Status = api.StatusProjected
	projected.RecurrencePlanID = &planID
	projectedID, err := s.InsertObligation(ctx, projected)
	if err != nil {
		t.Fatalf("InsertObligation: %v", err)
	}

	if err := s.DeleteObligation(ctx, "u1", originID); err != nil {
		t.Fatalf("DeleteObligation: %v", err)
	}

	got, err := s.GetObligation(ctx, "u1", projectedID)
	if err != nil {
		t.Fatalf("GetObligation: %v", err)
	}
	if got.RecurrencePlanID != nil {
		t.Errorf("recurrence plan id: got %v, want nil", *got.RecurrencePlanID)
	}
	if n := s.Stats()[api.CollectionRecurrencePlans]; n != 0 {
		t.Errorf("plans: got %d, want 0", n)
	}
}

func TestReferencesMustExist(t *testing.T) {
	ctx := context.Background()
	s := New()

	missing := "missing"
	o := obligation("u1", "2025-01-01", "10")
	o.CategoryID = &missing
	if _, err := s.InsertObligation(ctx, o); err == nil {
		t.Error("expected error for unknown category")
	}

	if _, err := s.InsertDocument(ctx, &api.FiscalDocument{OwnerID: "u1", ObligationID: missing}); err == nil {
		t.Error("expected error for unknown obligation")
	}
	if _, err := s.InsertDocumentItems(ctx, []*api.DocumentItem{{DocumentID: missing}}); err == nil {
		t.Error("expected error for unknown document")
	}
}

func TestReferencesAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	s := New()

	catID, _ := s.InsertCategory(ctx, &api.Category{OwnerID: "u2", Name: "Lazer"})
	entID, _ := s.InsertEntity(ctx, &api.Entity{OwnerID: "u2", Name: "Festval", NormalizedName: "festval"})

	withCat := obligation("u1", "2025-01-01", "10")
	withCat.CategoryID = &catID
	if _, err := s.InsertObligation(ctx, withCat); err == nil {
		t.Error("expected error for another owner's category")
	}
	withEnt := obligation("u1", "2025-01-01", "10")
	withEnt.EntityID = &entID
	if _, err := s.InsertObligation(ctx, withEnt); err == nil {
		t.Error("expected error for another owner's entity")
	}

	id, _ := s.InsertObligation(ctx, obligation("u1", "2025-01-01", "10"))
	if err := s.UpdateObligation(ctx, "u1", id, api.ObligationPatch{CategoryID: &catID}); err == nil {
		t.Error("expected error when patching in another owner's category")
	}
	got, _ := s.GetObligation(ctx, "u1", id)
	if got.CategoryID != nil {
		t.Errorf("category id: got %v, want nil", *got.CategoryID)
	}

	if _, err := s.GetCategory(ctx, "u1", catID); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("GetCategory: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetEntity(ctx, "u1", entID); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("GetEntity: got %v, want ErrNotFound", err)
	}
	if c, err := s.GetCategory(ctx, "u2", catID); err != nil || c.Name != "Lazer" {
		t.Errorf("GetCategory owner: got %+v, %v", c, err)
	}
}

func TestUpdateObligation(t *testing.T) {
	ctx := context.Background()
	s := New()

	catID, _ := s.InsertCategory(ctx, &api.Category{OwnerID: "u1", Name: "Food"})
	o := obligation("u1", "2025-01-01", "10")
	o.CategoryID = &catID
	id, _ := s.InsertObligation(ctx, o)

	desc := "Lunch"
	none := ""
	pm := api.PaymentCash
	if err := s.UpdateObligation(ctx, "u1", id, api.ObligationPatch{Description: &desc, CategoryID: &none, PaymentMethod: &pm}); err != nil {
		t.Fatalf("UpdateObligation: %v", err)
	}

	got, _ := s.GetObligation(ctx, "u1", id)
	if got.Description != "Lunch" || got.CategoryID != nil || got.PaymentMethod != api.PaymentCash {
		t.Errorf("patch not applied: %+v", got)
	}
	if !got.Amount.Equal(decimal.RequireFromString("10")) {
		t.Errorf("amount changed: got %s", got.Amount)
	}
}

func TestDeleteCategoryClearsReferences(t *testing.T) {
	ctx := context.Background()
	s := New()

	catID, _ := s.InsertCategory(ctx, &api.Category{OwnerID: "u1", Name: "Food"})
	o := obligation("u1", "2025-01-01", "10")
	o.CategoryID = &catID
	id, _ := s.InsertObligation(ctx, o)

	if err := s.DeleteCategory(ctx, "u1", catID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	got, _ := s.GetObligation(ctx, "u1", id)
	if got.CategoryID != nil {
		t.Errorf("category id: got %v, want nil", *got.CategoryID)
	}

	cats, _ := s.ListCategories(ctx, "u1")
	if len(cats) != 0 {
		t.Errorf("categories: got %d, want 0", len(cats))
	}
}
