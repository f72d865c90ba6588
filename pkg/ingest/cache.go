package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ArionMiles/obligations/pkg/parser/nfce"
)

// DefaultPreviewTTL is how long a preview stays confirmable.
const DefaultPreviewTTL = 30 * time.Minute

// PreviewCache holds parsed documents between preview and confirmation so the
// client confirms by id instead of sending markup back. Entries are owner-scoped.
type PreviewCache struct {
	c *cache.Cache
}

// NewPreviewCache creates a cache whose entries expire after ttl.
func NewPreviewCache(ttl time.Duration) *PreviewCache {
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	return &PreviewCache{c: cache.New(ttl, 2*ttl)}
}

func previewKey(ownerID, id string) string {
	return ownerID + "/" + id
}

// Put stores doc for ownerID and returns its preview id.
func (p *PreviewCache) Put(ownerID string, doc *nfce.Document) string {
	id := uuid.NewString()
	p.c.Set(previewKey(ownerID, id), doc, cache.DefaultExpiration)
	return id
}

// Get returns the preview if it exists, belongs to ownerID and has not expired.
func (p *PreviewCache) Get(ownerID, id string) (*nfce.Document, bool) {
	v, found := p.c.Get(previewKey(ownerID, id))
	if !found {
		return nil, false
	}
	doc, ok := v.(*nfce.Document)
	return doc, ok
}

// Delete drops a preview, typically after it was confirmed.
func (p *PreviewCache) Delete(ownerID, id string) {
	p.c.Delete(previewKey(ownerID, id))
}

// Len returns the number of cached previews, including expired ones not yet evicted.
func (p *PreviewCache) Len() int {
	return p.c.ItemCount()
}
