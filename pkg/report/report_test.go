package report

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
	"github.com/ArionMiles/obligations/pkg/store/memory"
)

func seed(t *testing.T, store *memory.Store, rows ...*api.Obligation) {
	t.Helper()
	if _, err := store.InsertObligations(context.Background(), rows); err != nil {
		t.Fatalf("seeding: %v", err)
	}
}

func row(date, amount string, status api.Status) *api.Obligation {
	return &api.Obligation{
		OwnerID:       "u1",
		Amount:        decimal.RequireFromString(amount),
		Date:          calendar.MustParse(date),
		PaymentMethod: api.PaymentOther,
		Source:        api.SourceManual,
		Status:        status,
	}
}

func TestMonth(t *testing.T) {
	store := memory.New()
	seed(t, store,
		row("2025-03-01", "100", api.StatusConfirmed),
		row("2025-03-15", "50.50", api.StatusConfirmed),
		row("2025-03-31", "39.90", api.StatusProjected),
		row("2025-04-01", "999", api.StatusProjected),
		row("2025-02-28", "999", api.StatusConfirmed),
	)

	got, err := New(store).Month(context.Background(), "u1", 2025, time.March)
	if err != nil {
		t.Fatalf("Month: %v", err)
	}
	if !got.Confirmed.Equal(decimal.RequireFromString("150.50")) {
		t.Errorf("confirmed: got %s, want 150.50", got.Confirmed)
	}
	if !got.Projected.Equal(decimal.RequireFromString("39.90")) {
		t.Errorf("projected: got %s, want 39.90", got.Projected)
	}
	if len(got.Obligations) != 3 {
		t.Errorf("obligations: got %d, want 3", len(got.Obligations))
	}

	if _, err := New(store).Month(context.Background(), "u1", 2025, 13); api.KindOf(err) != api.KindValidation {
		t.Errorf("month 13: got %v, want validation error", err)
	}
}

func TestCommitments(t *testing.T) {
	store := memory.New()
	seed(t, store,
		row("2025-01-31", "10", api.StatusProjected),
		row("2025-04-10", "20", api.StatusProjected),
		row("2025-04-20", "5", api.StatusProjected),
		row("2025-04-21", "1000", api.StatusConfirmed),
		row("2025-12-31", "30", api.StatusProjected),
		row("2026-01-01", "999", api.StatusProjected),
		row("2024-12-31", "999", api.StatusProjected),
	)

	buckets, err := New(store).Commitments(context.Background(), "u1", calendar.MustParse("2025-04-15"))
	if err != nil {
		t.Fatalf("Commitments: %v", err)
	}
	if len(buckets) != 12 {
		t.Fatalf("buckets: got %d, want 12", len(buckets))
	}
	if got := buckets[0].Month.String(); got != "2025-01-01" {
		t.Errorf("first bucket: got %s, want 2025-01-01", got)
	}
	if got := buckets[11].Month.String(); got != "2025-12-01" {
		t.Errorf("last bucket: got %s, want 2025-12-01", got)
	}

	want := map[int]string{0: "10", 3: "25", 11: "30", 5: "0"}
	for i, amount := range want {
		if !buckets[i].Projected.Equal(decimal.RequireFromString(amount)) {
			t.Errorf("bucket %d (%s): got %s, want %s", i, buckets[i].Month, buckets[i].Projected, amount)
		}
	}
}
