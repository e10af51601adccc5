package dataflows

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dyike/CortexFund/models"
)

// cacheKey identifies one remote response. Point-in-time lookups leave From
// zero and set To to the as-of day.
type cacheKey struct {
	Source string
	Kind   string
	Ticker string
	From   time.Time
	To     time.Time
}

func (k cacheKey) file() string {
	name := k.Kind
	if !k.From.IsZero() {
		name += "_" + k.From.Format(models.DateLayout)
	}
	if !k.To.IsZero() {
		name += "_" + k.To.Format(models.DateLayout)
	}
	return filepath.Join(k.Source, k.Ticker, name+".json")
}

type cacheEntry struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Data      json.RawMessage `json:"data"`
}

// responseCache keeps decoded remote responses on disk for ttl. A nil
// cache misses every lookup and drops every store.
type responseCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

func newResponseCache(dir string, ttl time.Duration, enabled bool) *responseCache {
	if !enabled || dir == "" {
		return nil
	}
	return &responseCache{dir: dir, ttl: ttl, now: time.Now}
}

// load decodes a fresh entry for key into out and reports whether it did.
func (c *responseCache) load(key cacheKey, out any) bool {
	if c == nil {
		return false
	}
	path := filepath.Join(c.dir, key.file())
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return false
	}
	if c.now().Sub(entry.FetchedAt) > c.ttl {
		_ = os.Remove(path)
		return false
	}
	return json.Unmarshal(entry.Data, out) == nil
}

func (c *responseCache) store(key cacheKey, v any) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", key.Source, key.Kind, err)
	}
	data, err := json.Marshal(cacheEntry{FetchedAt: c.now(), Data: raw})
	if err != nil {
		return err
	}
	path := filepath.Join(c.dir, key.file())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
