package bazaar

import (
	"sort"
	"sync"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

const defaultListLimit = 100

// CatalogEntry is one row of a discovery catalog.
type CatalogEntry struct {
	Resource    string                     `json:"resource"`
	Type        string                     `json:"type"`
	X402Version int                        `json:"x402Version"`
	Accepts     []x402.PaymentRequirements `json:"accepts"`
	Info        *DiscoveryInfo             `json:"discoveryInfo,omitempty"`
	Metadata    *ResourceMetadata          `json:"metadata,omitempty"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

// ListOptions filters and pages a catalog listing.
type ListOptions struct {
	Type   string
	Limit  int
	Offset int
}

// Pagination echoes the window a listing covered.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// ListResponse is the discovery list wire shape.
type ListResponse struct {
	X402Version int            `json:"x402Version"`
	Items       []CatalogEntry `json:"items"`
	Pagination  Pagination     `json:"pagination"`
}

// Catalog is an in-memory discovery catalog keyed by resource URL.
// Facilitators feed it from verified payments through AfterVerifyHook;
// resource servers may seed it from their own route declarations with
// Record. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]CatalogEntry
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]CatalogEntry)}
}

// Record upserts a discovered resource. The latest observation of a
// resource wins.
func (c *Catalog) Record(resource DiscoveredResource, accepts []x402.PaymentRequirements) {
	if resource.Resource == "" {
		return
	}
	entry := CatalogEntry{
		Resource:    resource.Resource,
		Type:        TransportHTTP,
		X402Version: resource.X402Version,
		Accepts:     accepts,
		Info:        resource.Info,
		LastUpdated: time.Now().UTC(),
	}
	if resource.Info != nil {
		entry.Metadata = resource.Info.Metadata
	}

	c.mu.Lock()
	c.entries[resource.Resource] = entry
	c.mu.Unlock()
}

// List returns one page of the catalog ordered by resource URL.
func (c *Catalog) List(opts ListOptions) ListResponse {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	c.mu.RLock()
	all := make([]CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		if opts.Type != "" && entry.Type != opts.Type {
			continue
		}
		all = append(all, entry)
	}
	c.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Resource < all[j].Resource })

	total := len(all)
	page := []CatalogEntry{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = all[offset:end]
	}

	return ListResponse{
		X402Version: x402.SupportedVersions[len(x402.SupportedVersions)-1],
		Items:       page,
		Pagination:  Pagination{Limit: limit, Offset: offset, Total: total},
	}
}

// Len reports how many resources the catalog holds.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AfterVerifyHook returns a facilitator hook that catalogs resources as
// their payments verify. Exchanges without discovery info, and
// declarations that fail validation, are skipped; cataloging never
// fails a verification.
func (c *Catalog) AfterVerifyHook() x402.FacilitatorAfterVerifyHook {
	return func(hookCtx x402.FacilitatorVerifyResultContext) error {
		if !hookCtx.Result.IsValid {
			return nil
		}
		discovered, err := ExtractDiscoveryInfo(hookCtx.Payload, hookCtx.Requirements, true)
		if err != nil || discovered == nil {
			return nil
		}
		c.Record(*discovered, []x402.PaymentRequirements{hookCtx.Requirements})
		return nil
	}
}
