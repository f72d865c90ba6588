// Package nfce extracts purchase data from Brazilian consumer fiscal receipt (NFC-e) pages.
//
// Extraction is heuristic. Each field is found by an independent probe over the raw
// markup; a probe that does not match leaves its field nil and never affects the others.
package nfce

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
	"github.com/ArionMiles/obligations/pkg/money"
)

// AccessKeyLength is the number of digits in an NFC-e access key.
const AccessKeyLength = 44

// MaxRawItemBytes bounds the markup kept per item.
const MaxRawItemBytes = 300

// Document is the structured result of parsing one receipt page.
type Document struct {
	AccessKey     *string            `json:"access_key"`
	Merchant      *string            `json:"merchant"`
	TaxID         *string            `json:"tax_id"`
	IssuedOn      *calendar.Date     `json:"issued_on"`
	Payable       *decimal.Decimal   `json:"payable"`
	PaymentMethod *api.PaymentMethod `json:"payment_method"`
	PaymentLabel  *string            `json:"payment_label"`
	Items         []Item             `json:"items"`
	RawHTML       string             `json:"-"`
	SourceURL     string             `json:"source_url"`
}

// Usable reports whether the page carried enough to be recorded.
func (d *Document) Usable() bool {
	return d.AccessKey != nil || d.Payable != nil
}

// Item is one purchased product line.
type Item struct {
	Description string           `json:"description"`
	SKU         *string          `json:"sku"`
	Quantity    *decimal.Decimal `json:"quantity"`
	Unit        *string          `json:"unit"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	TotalPrice  *decimal.Decimal `json:"total_price"`
	Raw         string           `json:"raw"`
}

var (
	accessKeyRun    = regexp.MustCompile(`\d[\d\s]{42,}`)
	merchantTopo    = regexp.MustCompile(`(?s)<div[^>]*class="txtTopo"[^>]*>(.*?)</div>`)
	merchantPreCNPJ = regexp.MustCompile(`\n\s*([A-Z\s]{3,50})\s*CNPJ`)
	taxIDPattern    = regexp.MustCompile(`CNPJ:?\s*(\d[\d./-]*)`)
	issuedPattern   = regexp.MustCompile(`(?i)<strong>\s*Emiss(?:ã|a|&atilde;)o:\s*</strong>\s*(\d{2}/\d{2}/\d{4})`)
	payablePattern  = regexp.MustCompile(`(?is)<label>\s*Valor\s+a\s+pagar\s+R\$:\s*</label>.{0,100}?<span[^>]*class="totalNumb[^"]*"[^>]*>\s*([\d.,]+)\s*</span>`)
	paymentLabel    = regexp.MustCompile(`(?s)<label\s+class="tx">([^<]+)</label>`)

	itemBlock       = regexp.MustCompile(`(?is)<tr\s+id="Item \+ \d+"[^>]*>(.*?)</tr>`)
	itemDescription = regexp.MustCompile(`(?s)<span class="txtTit2">(.*?)</span>`)
	itemSKU         = regexp.MustCompile(`<span class="RCod">\s*\(C(?:ó|o|&oacute;)digo:\s*(\d+)\s*\)\s*</span>`)
	itemQuantity    = regexp.MustCompile(`<strong>Qtde\.:\s*</strong>\s*([\d.,]+)`)
	itemUnit        = regexp.MustCompile(`<strong>UN:\s*</strong>\s*(\w+)`)
	itemUnitPrice   = regexp.MustCompile(`<strong>Vl\.\s*Unit\.:\s*</strong>(?:\s|&nbsp;)*([\d.,]+)`)
	itemTotal       = regexp.MustCompile(`<span class="valor">\s*([\d.,]+)\s*</span>`)

	fiscalURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)fazenda\.(pr|sp|mg|rj|rs|sc|ba|pe|ce|go|df|es|pa|am|ma|pb|rn|pi|al|se|to|ac|ap|ro|rr|mt|ms)\.gov\.br`),
		regexp.MustCompile(`(?i)nfe\.fazenda\.gov\.br`),
		regexp.MustCompile(`(?i)nfce`),
	}
)

type probe func(markup string, doc *Document)

var probes = []probe{
	probeAccessKey,
	probeMerchant,
	probeTaxID,
	probeIssuedOn,
	probePayable,
	probePaymentMethod,
	probeItems,
}

// Parse extracts every recognisable field from markup. It never fails;
// callers decide with Usable whether the result is worth keeping.
func Parse(markup, sourceURL string) *Document {
	doc := &Document{
		RawHTML:   markup,
		SourceURL: sourceURL,
		Items:     []Item{},
	}
	for _, p := range probes {
		p(markup, doc)
	}
	return doc
}

// IsFiscalURL reports whether url looks like a state tax authority NFC-e link.
func IsFiscalURL(url string) bool {
	if url == "" {
		return false
	}
	for _, p := range fiscalURLPatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

func probeAccessKey(markup string, doc *Document) {
	for _, run := range accessKeyRun.FindAllString(markup, -1) {
		key := strings.Join(strings.Fields(run), "")
		if len(key) == AccessKeyLength {
			doc.AccessKey = &key
			return
		}
	}
}

func probeMerchant(markup string, doc *Document) {
	if m := merchantTopo.FindStringSubmatch(markup); len(m) > 1 {
		if name := text(m[1]); name != "" {
			doc.Merchant = &name
			return
		}
	}
	if m := merchantPreCNPJ.FindStringSubmatch(markup); len(m) > 1 {
		if name := strings.Join(strings.Fields(m[1]), " "); name != "" {
			doc.Merchant = &name
		}
	}
}

func probeTaxID(markup string, doc *Document) {
	if m := taxIDPattern.FindStringSubmatch(markup); len(m) > 1 {
		id := m[1]
		doc.TaxID = &id
	}
}

func probeIssuedOn(markup string, doc *Document) {
	if m := issuedPattern.FindStringSubmatch(markup); len(m) > 1 {
		if d, err := calendar.ParseBR(m[1]); err == nil {
			doc.IssuedOn = &d
		}
	}
}

func probePayable(markup string, doc *Document) {
	if m := payablePattern.FindStringSubmatch(markup); len(m) > 1 {
		doc.Payable = money.Ptr(m[1])
	}
}

func probePaymentMethod(markup string, doc *Document) {
	m := paymentLabel.FindStringSubmatch(markup)
	if len(m) < 2 {
		return
	}
	label := text(m[1])
	if label == "" {
		return
	}
	pm := MapPaymentLabel(label)
	doc.PaymentLabel = &label
	doc.PaymentMethod = &pm
}

func probeItems(markup string, doc *Document) {
	for _, block := range itemBlock.FindAllStringSubmatch(markup, -1) {
		if item, ok := parseItem(block[1]); ok {
			doc.Items = append(doc.Items, item)
		}
	}
}

// parseItem reads one item row. Rows without a description are dropped.
func parseItem(row string) (Item, bool) {
	m := itemDescription.FindStringSubmatch(row)
	if len(m) < 2 {
		return Item{}, false
	}
	item := Item{
		Description: text(m[1]),
		Raw:         truncate(strings.TrimSpace(row), MaxRawItemBytes),
	}
	if item.Description == "" {
		return Item{}, false
	}

	if m := itemSKU.FindStringSubmatch(row); len(m) > 1 {
		sku := m[1]
		item.SKU = &sku
	}
	if m := itemQuantity.FindStringSubmatch(row); len(m) > 1 {
		item.Quantity = money.Ptr(m[1])
	}
	if m := itemUnit.FindStringSubmatch(row); len(m) > 1 {
		unit := strings.ToLower(m[1])
		item.Unit = &unit
	}
	if m := itemUnitPrice.FindStringSubmatch(row); len(m) > 1 {
		item.UnitPrice = money.Ptr(m[1])
	}
	if m := itemTotal.FindStringSubmatch(row); len(m) > 1 {
		item.TotalPrice = money.Ptr(m[1])
	}
	return item, true
}

// MapPaymentLabel maps a free-text payment label to a payment method,
// ignoring case and accents. Unrecognised labels map to other.
func MapPaymentLabel(label string) api.PaymentMethod {
	folded := fold(label)
	switch {
	case strings.Contains(folded, "credito"):
		return api.PaymentCredit
	case strings.Contains(folded, "debito"):
		return api.PaymentDebit
	case strings.Contains(folded, "pix"):
		return api.PaymentInstantTransfer
	case strings.Contains(folded, "dinheiro"):
		return api.PaymentCash
	case strings.Contains(folded, "boleto"):
		return api.PaymentBill
	}
	return api.PaymentOther
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// text returns the unescaped text content of an HTML fragment with whitespace collapsed.
func text(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
