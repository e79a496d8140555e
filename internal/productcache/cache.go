// Package productcache is the two-tier product detail cache: a durable
// per-type map of (code -> detail or unknown) with negative-result
// memoization, plus a short-lived popular-products cache.
package productcache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lattice-cms/updater/internal/logging"
)

var log = logging.L("productcache")

// popularTTL is the expiry of the popular-products entry. The per-code
// detail cache has no per-entry expiry; it is invalidated wholesale.
const popularTTL = 60 * time.Minute

// Detail is a product detail record as returned by the gateway.
type Detail map[string]any

// Fetcher is the gateway surface the cache needs.
type Fetcher interface {
	RequestData(ctx context.Context, endpoint string, extra map[string]string) (map[string]any, error)
}

type entry struct {
	Known  bool   `json:"known"`
	Detail Detail `json:"detail,omitempty"`
}

type detailFile struct {
	Entries map[string]entry `json:"entries"`
}

type popularFile struct {
	FetchedAt time.Time `json:"fetched_at"`
	Items     []Detail  `json:"items"`
}

// Cache persists whole per-type maps under dir. Read-modify-write with no
// cross-process locking: concurrent writers can lose entries, which is
// acceptable because negative caching self-heals on the next full reload.
type Cache struct {
	dir string
	gw  Fetcher
	now func() time.Time

	mu     sync.Mutex
	loaded map[string]map[string]entry
}

// New creates a cache storing its files under dir.
func New(dir string, gw Fetcher) *Cache {
	return &Cache{
		dir:    dir,
		gw:     gw,
		now:    time.Now,
		loaded: make(map[string]map[string]entry),
	}
}

// Lookup resolves details for the requested codes. Codes already cached,
// positively or negatively, are never re-queried within the same cache
// generation; the rest go to the gateway in a single batched request, and
// every code the gateway does not return is negative-cached. The returned
// set contains only positive resolutions, in no specified order.
func (c *Cache) Lookup(ctx context.Context, typ string, codes []string) ([]Detail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load(typ)

	var hits []Detail
	var missing []string
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		if e, ok := entries[code]; ok {
			if e.Known {
				hits = append(hits, e.Detail)
			}
			continue
		}
		missing = append(missing, code)
	}

	if len(missing) == 0 {
		return hits, nil
	}

	resolved, err := c.fetchDetails(ctx, typ, missing)
	if err != nil {
		return nil, err
	}
	for _, code := range missing {
		if d, ok := resolved[code]; ok {
			entries[code] = entry{Known: true, Detail: d}
			hits = append(hits, d)
		} else {
			entries[code] = entry{Known: false}
		}
	}

	if err := c.save(typ, entries); err != nil {
		log.Warn("persisting detail cache failed", "type", typ, logging.KeyError, err)
	}
	return hits, nil
}

// Popular returns the popular products of a type, served from a dedicated
// cache entry with a fixed expiry. A miss fetches from the gateway and
// populates both the popular cache and the per-code detail cache.
func (c *Cache) Popular(ctx context.Context, typ string) ([]Detail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if items, ok := c.loadPopular(typ); ok {
		return items, nil
	}

	payload, err := c.gw.RequestData(ctx, typ+"/popular", nil)
	if err != nil {
		return nil, err
	}
	items := detailList(payload["data"])

	if err := c.savePopular(typ, items); err != nil {
		log.Warn("persisting popular cache failed", "type", typ, logging.KeyError, err)
	}

	entries := c.load(typ)
	for _, d := range items {
		if code, ok := d["code"].(string); ok && code != "" {
			entries[code] = entry{Known: true, Detail: d}
		}
	}
	if err := c.save(typ, entries); err != nil {
		log.Warn("persisting detail cache failed", "type", typ, logging.KeyError, err)
	}
	return items, nil
}

// Clear drops both tiers, in memory and on disk. The next Lookup starts a
// fresh cache generation.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = make(map[string]map[string]entry)

	matches, err := filepath.Glob(filepath.Join(c.dir, "products_*.json"))
	if err != nil {
		return err
	}
	popular, err := filepath.Glob(filepath.Join(c.dir, "popular_*.json"))
	if err != nil {
		return err
	}
	for _, path := range append(matches, popular...) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (c *Cache) fetchDetails(ctx context.Context, typ string, codes []string) (map[string]Detail, error) {
	encoded, err := json.Marshal(codes)
	if err != nil {
		return nil, err
	}
	payload, err := c.gw.RequestData(ctx, typ+"/details", map[string]string{
		"names": base64.StdEncoding.EncodeToString(encoded),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s details: %w", typ, err)
	}

	resolved := make(map[string]Detail)
	for _, d := range detailList(payload["data"]) {
		if code, ok := d["code"].(string); ok && code != "" {
			resolved[code] = d
		}
	}
	return resolved, nil
}

// load returns the current generation for a type, reading the file once
// per generation.
func (c *Cache) load(typ string) map[string]entry {
	if entries, ok := c.loaded[typ]; ok {
		return entries
	}

	entries := make(map[string]entry)
	data, err := os.ReadFile(c.detailPath(typ))
	if err == nil {
		var f detailFile
		if err := json.Unmarshal(data, &f); err == nil && f.Entries != nil {
			entries = f.Entries
		}
	}
	c.loaded[typ] = entries
	return entries
}

func (c *Cache) save(typ string, entries map[string]entry) error {
	c.loaded[typ] = entries
	data, err := json.Marshal(detailFile{Entries: entries})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.detailPath(typ), data, 0o644)
}

func (c *Cache) loadPopular(typ string) ([]Detail, bool) {
	data, err := os.ReadFile(c.popularPath(typ))
	if err != nil {
		return nil, false
	}
	var f popularFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}
	if c.now().Sub(f.FetchedAt) >= popularTTL {
		return nil, false
	}
	return f.Items, true
}

func (c *Cache) savePopular(typ string, items []Detail) error {
	data, err := json.Marshal(popularFile{FetchedAt: c.now(), Items: items})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.popularPath(typ), data, 0o644)
}

func (c *Cache) detailPath(typ string) string {
	return filepath.Join(c.dir, "products_"+typ+".json")
}

func (c *Cache) popularPath(typ string) string {
	return filepath.Join(c.dir, "popular_"+typ+".json")
}

func detailList(v any) []Detail {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Detail, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Detail(m))
		}
	}
	return out
}
