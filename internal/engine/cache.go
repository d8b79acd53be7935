package engine

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// reportEntry holds a memoized report and its expiration time.
type reportEntry struct {
	report    *Report
	expiresAt time.Time
}

// Cache memoizes pipeline reports keyed by the input fingerprint, so a
// service can avoid recomputing an identical request. Stored reports
// are treated as frozen: the pipeline recomputes in full on each miss
// and nothing patches a cached report in place. Expiration is lazy on
// Get, with an optional background sweep.
type Cache struct {
	entries map[string]*reportEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

// NewCache creates a report cache. A non-positive ttl disables
// expiration.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*reportEntry),
		ttl:     ttl,
	}
}

// Get retrieves a memoized report, deleting and missing on expired
// entries.
func (c *Cache) Get(key string) (*Report, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.report, true
}

// Set memoizes a report under the given key.
func (c *Cache) Set(key string, r *Report) {
	entry := &reportEntry{report: r}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate drops every memoized report. Called when the underlying
// record set changes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*reportEntry)
	c.mu.Unlock()
}

// Len reports the number of live entries, counting expired ones not
// yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartCleanup runs a background goroutine that periodically removes
// expired entries. It stops when the context is cancelled.
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				now := time.Now()
				for k, v := range c.entries {
					if !v.expiresAt.IsZero() && now.After(v.expiresAt) {
						delete(c.entries, k)
					}
				}
				c.mu.Unlock()
			}
		}
	}()
}

// CacheKey builds the memoization key for one pipeline request. Any
// change to the record set, the criteria, the kind scope, the row
// field, or the display mode produces a distinct key.
func CacheKey(recordsHash string, c Criteria, kind EventKind, rowField RowField, mode DisplayMode) string {
	return strings.Join([]string{
		recordsHash,
		criterionKey(c.Diagnosis),
		criterionKey(c.DiagnosticCategory),
		criterionKey(c.Symptom),
		criterionKey(c.HrsnIndicator),
		criterionKey(c.ICD10Code),
		string(kind),
		string(rowField),
		string(mode),
	}, "|")
}

func criterionKey(v string) string {
	if !criterionSet(v) {
		return CriteriaAll
	}
	return strings.ToLower(v)
}

// HashRecords fingerprints the full record set. The digest covers every
// event and patient field in input order, with map contents written in
// sorted key order so equal inputs always hash equally.
func HashRecords(events []ClinicalEvent, patients []PatientRecord) string {
	h := md5.New()
	for _, e := range events {
		io.WriteString(h, e.PatientID)
		io.WriteString(h, string(e.Kind))
		io.WriteString(h, e.Label)
		io.WriteString(h, e.SessionDate)
		io.WriteString(h, e.DiagnosticCategory)
		io.WriteString(h, e.Diagnosis)
		io.WriteString(h, e.ICD10Code)
		io.WriteString(h, "\n")
	}
	for _, p := range patients {
		io.WriteString(h, p.PatientID)
		for _, k := range sortedKeys(p.Attributes) {
			io.WriteString(h, k)
			io.WriteString(h, p.Attributes[k])
		}
		for _, k := range sortedBoolKeys(p.HrsnFlags) {
			io.WriteString(h, k)
			if p.HrsnFlags[k] {
				io.WriteString(h, "1")
			} else {
				io.WriteString(h, "0")
			}
		}
		io.WriteString(h, "\n")
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedBoolKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
