// Package catalog is the read-only provider catalog used to suggest provider
// names and to fill algorithm defaults on account creation.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderCatalog = (*Catalog)(nil)

//go:embed providers.yaml
var defaultCatalog []byte

// entry is the on-disk YAML shape of a provider.
type entry struct {
	Name           string `yaml:"name"`
	Website        string `yaml:"website"`
	HelpURL        string `yaml:"help_url"`
	Logo           string `yaml:"logo"`
	Method         string `yaml:"method"`
	Algorithm      string `yaml:"algorithm"`
	Digits         int    `yaml:"digits"`
	Period         int    `yaml:"period"`
	DefaultCounter uint64 `yaml:"default_counter"`
}

// Catalog holds provider entries indexed by exact and case-folded name.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	entries  []model.ProviderEntry
	exact    map[string]int
	folded   map[string]int
	rejected []error
}

// Parse builds a Catalog from YAML. Entries without a name are skipped; the
// first entry wins when names collide. An entry with an unknown method or
// algorithm is left out and reported by Rejected; only unreadable YAML fails.
func Parse(data []byte) (*Catalog, error) {
	var raw []entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}

	c := newCatalog(len(raw))
	for _, e := range raw {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		if _, dup := c.exact[name]; dup {
			continue
		}

		pe := model.ProviderEntry{
			Name:           name,
			Website:        e.Website,
			HelpURL:        e.HelpURL,
			Logo:           e.Logo,
			Algorithm:      model.ParseAlgorithm(e.Algorithm),
			Digits:         e.Digits,
			Period:         e.Period,
			DefaultCounter: e.DefaultCounter,
			Known:          true,
		}
		if e.Method != "" {
			m, err := model.ParseMethod(e.Method)
			if err != nil {
				c.rejected = append(c.rejected, fmt.Errorf("provider %q: %w", name, err))
				continue
			}
			pe.Method = m
		}
		if pe.Algorithm != "" && !pe.Algorithm.Valid() {
			c.rejected = append(c.rejected, fmt.Errorf("provider %q: unsupported algorithm %q", name, e.Algorithm))
			continue
		}

		c.add(pe)
	}

	return c, nil
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog from path, or the embedded default when path is
// empty. Any failure is logged and yields an empty catalog, since provider
// hints are advisory.
func Load(path string, logger *slog.Logger) *Catalog {
	var (
		c   *Catalog
		err error
	)

	if path == "" {
		c, err = Default()
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil {
			c, err = Parse(data)
		}
	}

	if err != nil {
		logger.Warn("provider catalog unavailable, continuing without hints", "path", path, "error", err)
		return newCatalog(0)
	}

	for _, rej := range c.rejected {
		logger.Warn("skipping invalid provider catalog entry", "path", path, "error", rej)
	}
	logger.Info("provider catalog loaded", "path", path, "providers", c.Len(), "skipped", len(c.rejected))
	return c
}

// Rejected returns the entries Parse left out, one error each.
func (c *Catalog) Rejected() []error {
	return c.rejected
}

func newCatalog(n int) *Catalog {
	return &Catalog{
		entries: make([]model.ProviderEntry, 0, n),
		exact:   make(map[string]int, n),
		folded:  make(map[string]int, n),
	}
}

func (c *Catalog) add(pe model.ProviderEntry) {
	idx := len(c.entries)
	c.entries = append(c.entries, pe)
	c.exact[pe.Name] = idx

	key := foldName(pe.Name)
	if _, ok := c.folded[key]; !ok {
		c.folded[key] = idx
	}
}

// Lookup finds a provider by exact name, then by case-folded name. A miss
// returns model.UnknownProvider(name).
func (c *Catalog) Lookup(name string) model.ProviderEntry {
	name = strings.TrimSpace(name)

	if idx, ok := c.exact[name]; ok {
		return c.entries[idx]
	}
	if idx, ok := c.folded[foldName(name)]; ok {
		return c.entries[idx]
	}
	return model.UnknownProvider(name)
}

// Search returns up to limit providers whose case-folded name starts with
// prefix, ordered by name. A non-positive limit returns every match.
func (c *Catalog) Search(prefix string, limit int) []model.ProviderEntry {
	p := foldName(strings.TrimSpace(prefix))

	out := []model.ProviderEntry{}
	for _, pe := range c.entries {
		if strings.HasPrefix(foldName(pe.Name), p) {
			out = append(out, pe)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return foldName(out[i].Name) < foldName(out[j].Name)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// foldName case-folds a provider name. A Caser is stateful, so each call
// gets its own.
func foldName(s string) string {
	return cases.Fold().String(s)
}

// Len returns the number of providers.
func (c *Catalog) Len() int {
	return len(c.entries)
}
