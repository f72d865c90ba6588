package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/client"
	"github.com/ArionMiles/obligations/pkg/parser/nfce"
	"github.com/ArionMiles/obligations/pkg/store/memory"
)

const owner = "user-1"

const receipt = `<html><body>
<div id="u20" class="txtTopo">FESTVAL</div>
<div class="text">CNPJ: 76.430.438/0001-02</div>
<table>
<tr id="Item + 1"><td><span class="txtTit2">QUEIJO MUSSARELA KG</span><span class="RCod">(Código: 12345 )</span>
<span class="Rqtd"><strong>Qtde.:</strong>0,384</span><span class="RUN"><strong>UN: </strong>KG</span>
<span class="RvlUnit"><strong>Vl. Unit.:</strong>&nbsp;59,98</span></td><td><span class="valor">23,03</span></td></tr>
<tr id="Item + 2"><td><span class="txtTit2">PAO FRANCES</span><span class="Rqtd"><strong>Qtde.:</strong>1</span></td><td><span class="valor">5,00</span></td></tr>
</table>
<div id="linhaTotal"><label>Valor total R$:</label><span class="totalNumb">43,03</span></div>
<div id="linhaTotal" class="linhaShade"><label>Valor a pagar R$:</label><span class="totalNumb txtMax">28,03</span></div>
<div id="linhaTotal"><label class="tx">Cartão de Crédito</label><span class="totalNumb">28,03</span></div>
<li><strong> Emissão: </strong>28/01/2026 10:15:32</li>
<span class="chave">4126 0176 4304 3800 0102 6500 1000 1234 5610 1234 5678</span>
</body></html>`

const receiptURL = "https://www.fazenda.pr.gov.br/nfce/qrcode?p=41260176430438000102650010001234561012345678|2|1|1|ABC"

type stubFetcher struct {
	body string
	err  error
	url  string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (*client.Response, error) {
	s.url = rawURL
	if s.err != nil {
		return nil, s.err
	}
	return &client.Response{URL: rawURL, StatusCode: 200, Body: s.body}, nil
}

func assertEmpty(t *testing.T, store *memory.Store) {
	t.Helper()
	for collection, n := range store.Stats() {
		if n != 0 {
			t.Errorf("%s: got %d rows, want 0", collection, n)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"  https://www.fazenda.pr.gov.br/nfce/qrcode?p=1 ", "https://www.fazenda.pr.gov.br/nfce/qrcode?p=1", false},
		{"https://www.fazenda.pr.gov.br/nfce/qr code?p=1\n", "https://www.fazenda.pr.gov.br/nfce/qrcode?p=1", false},
		{"ftp://example.com/file", "", true},
		{"not a url", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := NormalizeURL(tc.input)
			if tc.wantErr {
				if api.KindOf(err) != api.KindValidation {
					t.Errorf("got %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	fetcher := &stubFetcher{body: receipt}
	svc := New(fetcher, memory.New(), nil)

	doc, err := svc.Preview(context.Background(), " "+receiptURL+" ")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if fetcher.url != receiptURL {
		t.Errorf("fetched url: got %q, want %q", fetcher.url, receiptURL)
	}
	if doc.Merchant == nil || *doc.Merchant != "FESTVAL" {
		t.Errorf("merchant: got %v", doc.Merchant)
	}
	if doc.Payable == nil || !doc.Payable.Equal(decimal.RequireFromString("28.03")) {
		t.Errorf("payable: got %v, want 28.03", doc.Payable)
	}
	if len(doc.Items) != 2 {
		t.Errorf("items: got %d, want 2", len(doc.Items))
	}
}

func TestPreviewErrors(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		fetcher  *stubFetcher
		wantKind api.ErrorKind
	}{
		{"invalid url", "mailto:x@example.com", &stubFetcher{}, api.KindValidation},
		{"upstream status", receiptURL, &stubFetcher{err: &api.UpstreamFetchError{URL: receiptURL, StatusCode: 503}}, api.KindUpstream},
		{"plain fetch error", receiptURL, &stubFetcher{err: errors.New("dial tcp: refused")}, api.KindUpstream},
		{"nothing extracted", receiptURL, &stubFetcher{body: "<html>Serviço indisponível</html>"}, api.KindExtraction},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.fetcher, memory.New(), nil).Preview(context.Background(), tc.url)
			if got := api.KindOf(err); got != tc.wantKind {
				t.Errorf("got %q (%v), want %q", got, err, tc.wantKind)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(&stubFetcher{}, store, nil)
	doc := nfce.Parse(receipt, receiptURL)

	id, err := svc.Confirm(ctx, owner, doc, Edits{})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	o, err := store.GetObligation(ctx, owner, id)
	if err != nil {
		t.Fatalf("GetObligation: %v", err)
	}
	if !o.Amount.Equal(decimal.RequireFromString("28.03")) {
		t.Errorf("amount: got %s, want 28.03", o.Amount)
	}
	if o.Date.String() != "2026-01-28" {
		t.Errorf("date: got %s", o.Date)
	}
	if o.Description != "FESTVAL" || o.PaymentMethod != api.PaymentCredit {
		t.Errorf("description/payment: got %q/%q", o.Description, o.PaymentMethod)
	}
	if o.Source != api.SourceDocument || o.Status != api.StatusConfirmed {
		t.Errorf("source/status: got %s/%s", o.Source, o.Status)
	}

	items, err := store.ListItemsByObligation(ctx, owner, id)
	if err != nil {
		t.Fatalf("ListItemsByObligation: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items: got %d, want 2", len(items))
	}
	if items[0].SKU == nil || *items[0].SKU != "12345" {
		t.Errorf("item sku: got %v", items[0].SKU)
	}

	stats := store.Stats()
	if stats[api.CollectionDocuments] != 1 {
		t.Errorf("documents: got %d, want 1", stats[api.CollectionDocuments])
	}
}

func TestConfirmAppliesEdits(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(&stubFetcher{}, store, nil)
	doc := nfce.Parse(receipt, receiptURL)

	amount, date, desc, pm := "R$ 30,00", "2026-01-29", "Mercado", "pix"
	noItems := []nfce.Item{}

	id, err := svc.Confirm(ctx, owner, doc, Edits{
		Amount: &amount, Date: &date, Description: &desc, PaymentMethod: &pm, Items: &noItems,
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	o, _ := store.GetObligation(ctx, owner, id)
	if !o.Amount.Equal(decimal.RequireFromString("30")) || o.Date.String() != "2026-01-29" {
		t.Errorf("amount/date: got %s/%s", o.Amount, o.Date)
	}
	if o.Description != "Mercado" || o.PaymentMethod != api.PaymentInstantTransfer {
		t.Errorf("description/payment: got %q/%q", o.Description, o.PaymentMethod)
	}
	if n := store.Stats()[api.CollectionDocumentItems]; n != 0 {
		t.Errorf("items: got %d, want 0", n)
	}
}

func TestConfirmValidation(t *testing.T) {
	doc := nfce.Parse(`<span class="chave">41260176430438000102650010001234561012345678</span>`, receiptURL)
	store := memory.New()

	_, err := New(&stubFetcher{}, store, nil).Confirm(context.Background(), owner, doc, Edits{})

	var verr *api.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *api.ValidationError", err)
	}
	for _, field := range []string{"amount", "date"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing error for %s", field)
		}
	}
	assertEmpty(t, store)
}

type failingStore struct {
	*memory.Store
	failDocument bool
	failItems    bool
	failUndo     bool
	undoMissing  bool
}

func (f *failingStore) InsertDocument(ctx context.Context, d *api.FiscalDocument) (string, error) {
	if f.failDocument {
		return "", errors.New("documents: connection reset")
	}
	return f.Store.InsertDocument(ctx, d)
}

func (f *failingStore) InsertDocumentItems(ctx context.Context, items []*api.DocumentItem) ([]string, error) {
	if f.failItems {
		return nil, errors.New("document_items: value too long")
	}
	return f.Store.InsertDocumentItems(ctx, items)
}

func (f *failingStore) DeleteObligation(ctx context.Context, ownerID, id string) error {
	if f.failUndo {
		return errors.New("obligations: connection reset")
	}
	if f.undoMissing {
		return fmt.Errorf("obligation %s: %w", id, api.ErrNotFound)
	}
	return f.Store.DeleteObligation(ctx, ownerID, id)
}

func TestConfirmRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		store  func(*memory.Store) *failingStore
		wantOp string
	}{
		{"document stage fails", func(m *memory.Store) *failingStore { return &failingStore{Store: m, failDocument: true} }, StepDocument},
		{"item stage fails", func(m *memory.Store) *failingStore { return &failingStore{Store: m, failItems: true} }, StepItems},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := memory.New()
			svc := New(&stubFetcher{}, tc.store(mem), nil)

			_, err := svc.Confirm(context.Background(), owner, nfce.Parse(receipt, receiptURL), Edits{})

			var perr *api.PersistenceError
			if !errors.As(err, &perr) {
				t.Fatalf("got %v, want *api.PersistenceError", err)
			}
			if perr.Op != tc.wantOp {
				t.Errorf("op: got %q, want %q", perr.Op, tc.wantOp)
			}
			assertEmpty(t, mem)
		})
	}
}

func TestConfirmReportsCompensationFailure(t *testing.T) {
	mem := memory.New()
	svc := New(&stubFetcher{}, &failingStore{Store: mem, failItems: true, failUndo: true}, nil)

	_, err := svc.Confirm(context.Background(), owner, nfce.Parse(receipt, receiptURL), Edits{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "value too long") || !strings.Contains(err.Error(), "compensating "+StepObligation) {
		t.Errorf("error should carry both the cause and the compensation failure: %v", err)
	}
	if n := mem.Stats()[api.CollectionDocuments]; n != 0 {
		t.Errorf("document should still be compensated: got %d", n)
	}
}

func TestConfirmCancelledContextStillCompensates(t *testing.T) {
	mem := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	store := &cancellingStore{Store: mem, cancel: cancel}
	_, err := New(&stubFetcher{}, store, nil).Confirm(ctx, owner, nfce.Parse(receipt, receiptURL), Edits{})
	if err == nil {
		t.Fatal("expected error")
	}
	assertEmpty(t, mem)
}

type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (c *cancellingStore) InsertDocument(ctx context.Context, d *api.FiscalDocument) (string, error) {
	id, err := c.Store.InsertDocument(ctx, d)
	c.cancel()
	return id, err
}

func TestIngestEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(receipt))
	}))
	defer srv.Close()

	fetcher, err := client.New(client.Config{Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	store := memory.New()

	id, err := New(fetcher, store, nil).Ingest(context.Background(), owner, srv.URL+"/nfce?p=1", Edits{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	items, _ := store.ListItemsByObligation(context.Background(), owner, id)
	if len(items) != 2 {
		t.Errorf("items: got %d, want 2", len(items))
	}
}

func TestPreviewCache(t *testing.T) {
	c := NewPreviewCache(time.Minute)
	doc := nfce.Parse(receipt, receiptURL)

	id := c.Put(owner, doc)

	if got, ok := c.Get(owner, id); !ok || got != doc {
		t.Errorf("Get: got %v, %v", got, ok)
	}
	if _, ok := c.Get("someone-else", id); ok {
		t.Error("preview must not be visible to another owner")
	}

	c.Delete(owner, id)
	if _, ok := c.Get(owner, id); ok {
		t.Error("preview should be gone after Delete")
	}
}

func TestConfirmMissingRowDuringCompensationIsPersistence(t *testing.T) {
	mem := memory.New()
	svc := New(&stubFetcher{}, &failingStore{Store: mem, failDocument: true, undoMissing: true}, nil)

	_, err := svc.Confirm(context.Background(), owner, nfce.Parse(receipt, receiptURL), Edits{})
	if got := api.KindOf(err); got != api.KindPersistence {
		t.Errorf("got %q (%v), want %q", got, err, api.KindPersistence)
	}
	if errors.Is(err, api.ErrNotFound) {
		t.Error("compensation failure should not be part of the error chain")
	}
}

func TestConfirmRejectsUnknownReferences(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	foreignCat, _ := store.InsertCategory(ctx, &api.Category{OwnerID: "user-2", Name: "Lazer"})
	foreignEnt, _ := store.InsertEntity(ctx, &api.Entity{OwnerID: "user-2", Name: "Festval", NormalizedName: "festval"})
	missing := "does-not-exist"

	tests := []struct {
		name  string
		edits Edits
		field string
	}{
		{"another owner's category", Edits{CategoryID: &foreignCat}, "category_id"},
		{"another owner's entity", Edits{EntityID: &foreignEnt}, "entity_id"},
		{"unknown category", Edits{CategoryID: &missing}, "category_id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&stubFetcher{}, store, nil).Confirm(ctx, owner, nfce.Parse(receipt, receiptURL), tc.edits)

			var verr *api.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want *api.ValidationError", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Errorf("missing error for %s: %v", tc.field, verr.Fields)
			}
			if n := store.Stats()[api.CollectionObligations]; n != 0 {
				t.Errorf("obligations: got %d, want 0", n)
			}
		})
	}
}

func TestConfirmRejectsSubCentAmount(t *testing.T) {
	store := memory.New()
	amount := "0,001"

	_, err := New(&stubFetcher{}, store, nil).Confirm(context.Background(), owner, nfce.Parse(receipt, receiptURL), Edits{Amount: &amount})

	var verr *api.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *api.ValidationError", err)
	}
	if _, ok := verr.Fields["amount"]; !ok {
		t.Errorf("missing error for amount: %v", verr.Fields)
	}
	assertEmpty(t, store)
}
