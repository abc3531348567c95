package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/config"
)

var ErrUnknownModel = errors.New("unknown model")

// Model describes a supported completion model and its per-1K-token pricing.
type Model struct {
	Alias         string
	ProviderModel string
	Encoding      string
	PriceInput    decimal.Decimal
	PriceOutput   decimal.Decimal
	Currency      string
	MaxOutput     int32
}

// Catalog is the in-memory model registry seeded from configuration.
// Reloadable at runtime so price updates do not require a restart; recorded
// events always keep the prices in effect when they were written.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]Model
}

// New builds a catalog from the enabled config entries.
func New(entries []config.ModelCatalogEntry) *Catalog {
	c := &Catalog{models: make(map[string]Model)}
	c.Load(entries)
	return c
}

// Load replaces the registry contents with the provided entries.
func (c *Catalog) Load(entries []config.ModelCatalogEntry) {
	next := make(map[string]Model, len(entries))
	for _, entry := range entries {
		if !entry.IsEnabled() {
			continue
		}
		alias := NormalizeAlias(entry.Alias)
		if alias == "" {
			continue
		}
		next[alias] = Model{
			Alias:         alias,
			ProviderModel: entry.ProviderModel,
			Encoding:      entry.Encoding,
			PriceInput:    decimal.NewFromFloat(entry.PriceInput),
			PriceOutput:   decimal.NewFromFloat(entry.PriceOutput),
			Currency:      entry.Currency,
			MaxOutput:     entry.MaxOutput,
		}
	}
	c.mu.Lock()
	c.models = next
	c.mu.Unlock()
}

// Get resolves a model alias.
func (c *Catalog) Get(alias string) (Model, error) {
	norm := NormalizeAlias(alias)
	if norm == "" {
		return Model{}, fmt.Errorf("%w: empty alias", ErrUnknownModel)
	}
	c.mu.RLock()
	model, ok := c.models[norm]
	c.mu.RUnlock()
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, norm)
	}
	return model, nil
}

// Aliases returns the sorted list of supported aliases.
func (c *Catalog) Aliases() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.models))
	for alias := range c.models {
		out = append(out, alias)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// NormalizeAlias lowercases and trims a model alias.
func NormalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
