package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/modelsteward/pkg/events"
	"github.com/cuemby/modelsteward/pkg/log"
	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/cuemby/modelsteward/pkg/types"
	"github.com/rs/zerolog"
)

// Catalog is the in-memory, atomically-persisted list of known models. It
// exclusively owns ModelEntry instances, the derived HashIndex, the
// metrics tallies, and the default model id: every mutator goes through it
// so HashIndex invalidation happens inside the same critical section as
// the mutation that requires it.
type Catalog struct {
	mu sync.RWMutex

	items     []*types.ModelEntry
	byID      map[string]*types.ModelEntry
	defaultID string

	hashIndex      map[string]*types.HashIndexEntry
	hashIndexDirty bool

	modelsMetrics types.MetricsCounters
	ewmaSamples   int

	stateDir  string
	publisher events.Publisher
	logger    zerolog.Logger

	concurrencySnapshot func() types.ConcurrencyState
}

// NewCatalog creates an empty catalog rooted at stateDir/models.
func NewCatalog(stateDir string, publisher events.Publisher) *Catalog {
	return &Catalog{
		byID:           make(map[string]*types.ModelEntry),
		hashIndex:      make(map[string]*types.HashIndexEntry),
		hashIndexDirty: true,
		stateDir:       stateDir,
		publisher:      publisher,
		logger:         log.WithComponent("catalog"),
	}
}

// SetConcurrencySource wires the Admission Controller's snapshot into the
// catalog so Summary() can report a consistent combined view without the
// catalog importing the controller back.
func (c *Catalog) SetConcurrencySource(f func() types.ConcurrencyState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.concurrencySnapshot = f
}

func (c *Catalog) manifestPath(id string) string {
	return filepath.Join(c.stateDir, "models", id+".json")
}

func (c *Catalog) catalogPath() string {
	return filepath.Join(c.stateDir, "models", "models.json")
}

// List returns a snapshot of the current catalog order.
func (c *Catalog) List() []*types.ModelEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.ModelEntry, len(c.items))
	for i, entry := range c.items {
		cp := *entry
		out[i] = &cp
	}
	return out
}

// Summary returns items, the default model id, a concurrency snapshot, and
// the metrics tallies in one consistent read. Satisfies metrics.Snapshotter.
func (c *Catalog) Summary() types.ModelSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]*types.ModelEntry, len(c.items))
	for i, entry := range c.items {
		cp := *entry
		items[i] = &cp
	}

	var concurrency types.ConcurrencyState
	if c.concurrencySnapshot != nil {
		concurrency = c.concurrencySnapshot()
	}

	return types.ModelSummary{
		Items:       items,
		Default:     c.defaultID,
		Concurrency: concurrency,
		Metrics:     c.modelsMetrics,
	}
}

// Add replaces any entry sharing entry.ID, publishes models.changed, and
// invalidates the HashIndex, all inside the same write lock.
func (c *Catalog) Add(entry *types.ModelEntry) {
	cp := *entry
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	c.mu.Lock()
	_, existed := c.byID[cp.ID]
	if existed {
		for i, e := range c.items {
			if e.ID == cp.ID {
				c.items[i] = &cp
				break
			}
		}
	} else {
		c.items = append(c.items, &cp)
	}
	c.byID[cp.ID] = &cp
	c.hashIndexDirty = true
	c.mu.Unlock()

	op := "add"
	if existed {
		op = "update"
	}
	c.publish(events.TopicChanged, map[string]string{"op": op, "id": cp.ID})
}

// Remove deletes the entry with id, reporting whether anything was removed.
func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	_, ok := c.byID[id]
	if ok {
		delete(c.byID, id)
		for i, e := range c.items {
			if e.ID == id {
				c.items = append(c.items[:i], c.items[i+1:]...)
				break
			}
		}
		if c.defaultID == id {
			c.defaultID = ""
		}
		c.hashIndexDirty = true
	}
	c.mu.Unlock()

	if ok {
		c.publish(events.TopicChanged, map[string]string{"op": "remove", "id": id})
	}
	return ok
}

// SetDefault marks id as the default model, failing if it is not present.
func (c *Catalog) SetDefault(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; !ok {
		return fmt.Errorf("set default %s: %w", id, ErrUnknownModel)
	}
	c.defaultID = id
	return nil
}

// Refresh replaces the catalog with the built-in default entry set and
// publishes models.refreshed{count}.
func (c *Catalog) Refresh(defaults []*types.ModelEntry) {
	c.mu.Lock()
	c.items = make([]*types.ModelEntry, 0, len(defaults))
	c.byID = make(map[string]*types.ModelEntry, len(defaults))
	for _, d := range defaults {
		cp := *d
		if cp.UpdatedAt.IsZero() {
			cp.UpdatedAt = time.Now()
		}
		c.items = append(c.items, &cp)
		c.byID[cp.ID] = &cp
	}
	c.hashIndexDirty = true
	count := len(c.items)
	c.mu.Unlock()

	c.publish(events.TopicRefreshed, map[string]int{"count": count})
}

// Save persists the catalog to models.json via a temp file plus atomic
// rename, so a failure mid-write leaves the previous file intact.
func (c *Catalog) Save() error {
	c.mu.RLock()
	items := make([]*types.ModelEntry, len(c.items))
	copy(items, c.items)
	c.mu.RUnlock()

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	path := c.catalogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create models directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit catalog: %w", err)
	}
	return nil
}

// Load hydrates the catalog from models.json, replacing the in-memory list
// wholesale. A missing file is not an error: it means an empty catalog.
func (c *Catalog) Load() error {
	data, err := os.ReadFile(c.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read catalog: %w", err)
	}

	var items []*types.ModelEntry
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}

	c.mu.Lock()
	c.items = items
	c.byID = make(map[string]*types.ModelEntry, len(items))
	for _, e := range items {
		c.byID[e.ID] = e
	}
	c.hashIndexDirty = true
	c.mu.Unlock()
	return nil
}

// SaveManifest writes a per-model manifest document, called only after a
// download's integrity check has succeeded.
func (c *Catalog) SaveManifest(m *types.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest %s: %w", m.ID, err)
	}
	path := c.manifestPath(m.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create models directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp manifest %s: %w", m.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit manifest %s: %w", m.ID, err)
	}
	c.publish(events.TopicManifestWritten, map[string]string{"id": m.ID})
	return nil
}

// rebuildHashIndex rebuilds the digest -> provenance index from the
// current items, keeping only entries whose sha256 is a well-formed
// 64-hex-char digest. Must be called with c.mu held for write.
func (c *Catalog) rebuildHashIndex() {
	idx := make(map[string]*types.HashIndexEntry)
	providerSets := make(map[string]map[string]bool)
	modelSets := make(map[string]map[string]bool)

	for _, e := range c.items {
		if !isValidSHA256(e.SHA256) {
			continue
		}
		entry, ok := idx[e.SHA256]
		if !ok {
			entry = &types.HashIndexEntry{SHA256: e.SHA256}
			idx[e.SHA256] = entry
			providerSets[e.SHA256] = make(map[string]bool)
			modelSets[e.SHA256] = make(map[string]bool)
		}
		if entry.Bytes == 0 && e.Bytes != 0 {
			entry.Bytes = e.Bytes
		}
		if entry.Path == "" && e.CASPath != "" {
			entry.Path = e.CASPath
		}
		provider := e.Provider
		if provider == "" {
			provider = "unknown"
		}
		providerSets[e.SHA256][provider] = true
		modelSets[e.SHA256][e.ID] = true
	}

	for digest, entry := range idx {
		entry.Providers = sortedKeys(providerSets[digest])
		entry.Models = sortedKeys(modelSets[digest])
		entry.ProvidersCount = len(entry.Providers)
	}

	c.hashIndex = idx
	c.hashIndexDirty = false
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func isValidSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// Contains reports whether digest is referenced by any live catalog entry.
// Satisfies cas.DigestSet so GC can check liveness without importing this
// package.
func (c *Catalog) Contains(digest string) bool {
	c.mu.Lock()
	if c.hashIndexDirty {
		c.rebuildHashIndex()
	}
	_, ok := c.hashIndex[digest]
	c.mu.Unlock()
	return ok
}

// HashesPage reads the HashIndex, applies the provider/model filters,
// sorts, and paginates with a clamped limit.
func (c *Catalog) HashesPage(limit, offset int, provider, model, sortBy, order string) types.HashPage {
	c.mu.Lock()
	if c.hashIndexDirty {
		c.rebuildHashIndex()
	}
	entries := make([]*types.HashIndexEntry, 0, len(c.hashIndex))
	for _, e := range c.hashIndex {
		cp := *e
		entries = append(entries, &cp)
	}
	c.mu.Unlock()

	if provider != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			for _, p := range e.Providers {
				if p == provider {
					filtered = append(filtered, e)
					break
				}
			}
		}
		entries = filtered
	}
	if model != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			for _, m := range e.Models {
				if m == model {
					filtered = append(filtered, e)
					break
				}
			}
		}
		entries = filtered
	}

	sortHashEntries(entries, sortBy, order)

	if limit <= 0 {
		limit = 10000
	}
	if limit > 10000 {
		limit = 10000
	}

	total := len(entries)
	lastOffset := 0
	if total > 0 {
		lastOffset = ((total - 1) / limit) * limit
	}
	if offset < 0 {
		offset = 0
	}
	if offset > lastOffset {
		offset = lastOffset
	}

	end := offset + limit
	if end > total {
		end = total
	}
	var page []*types.HashIndexEntry
	if offset < total {
		page = entries[offset:end]
	}

	var prevOffset, nextOffset *int
	if offset > 0 {
		p := offset - limit
		if p < 0 {
			p = 0
		}
		prevOffset = &p
	}
	if end < total {
		n := end
		nextOffset = &n
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	page1based := offset/limit + 1

	return types.HashPage{
		Items:      page,
		Total:      total,
		Count:      len(page),
		Limit:      limit,
		Offset:     offset,
		PrevOffset: prevOffset,
		NextOffset: nextOffset,
		Page:       page1based,
		TotalPages: totalPages,
		LastOffset: lastOffset,
	}
}

func sortHashEntries(entries []*types.HashIndexEntry, sortBy, order string) {
	less := func(i, j int) bool {
		a, b := entries[i], entries[j]
		var primary bool
		switch sortBy {
		case "sha256":
			primary = a.SHA256 < b.SHA256
		case "path":
			if a.Path != b.Path {
				primary = a.Path < b.Path
			} else {
				return a.SHA256 < b.SHA256
			}
		case "providers_count":
			if a.ProvidersCount != b.ProvidersCount {
				primary = a.ProvidersCount < b.ProvidersCount
			} else {
				return a.SHA256 < b.SHA256
			}
		default: // "bytes"
			if a.Bytes != b.Bytes {
				primary = a.Bytes < b.Bytes
			} else {
				return a.SHA256 < b.SHA256
			}
		}
		return primary
	}

	sort.SliceStable(entries, func(i, j int) bool { return less(i, j) })
	if order != "asc" {
		// default sort is descending except for explicit "asc"; reverse in
		// place while keeping the sha256 tiebreak ascending.
		reverseStablePreservingTies(entries, sortBy)
	}
}

// reverseStablePreservingTies sorts entries in descending order of the
// requested key while keeping ties broken by ascending sha256, matching
// hashes_page's documented stable ordering.
func reverseStablePreservingTies(entries []*types.HashIndexEntry, sortBy string) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch sortBy {
		case "sha256":
			return a.SHA256 > b.SHA256
		case "path":
			if a.Path != b.Path {
				return a.Path > b.Path
			}
			return a.SHA256 < b.SHA256
		case "providers_count":
			if a.ProvidersCount != b.ProvidersCount {
				return a.ProvidersCount > b.ProvidersCount
			}
			return a.SHA256 < b.SHA256
		default:
			if a.Bytes != b.Bytes {
				return a.Bytes > b.Bytes
			}
			return a.SHA256 < b.SHA256
		}
	})
}

func (c *Catalog) publish(topic events.Topic, payload any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(&events.Event{Topic: topic, Payload: payload})
}

// --- Metrics bookkeeping ---------------------------------------------

func (c *Catalog) recordStarted() {
	c.mu.Lock()
	c.modelsMetrics.Started++
	c.mu.Unlock()
	metrics.DownloadsStarted.Inc()
}

func (c *Catalog) recordQueued() {
	c.mu.Lock()
	c.modelsMetrics.Queued++
	c.mu.Unlock()
	metrics.DownloadsQueued.Inc()
}

func (c *Catalog) recordAdmitted() {
	c.mu.Lock()
	c.modelsMetrics.Admitted++
	c.mu.Unlock()
	metrics.DownloadsAdmitted.Inc()
}

func (c *Catalog) recordResumed() {
	c.mu.Lock()
	c.modelsMetrics.Resumed++
	c.mu.Unlock()
	metrics.DownloadsResumed.Inc()
}

func (c *Catalog) recordCanceled() {
	c.mu.Lock()
	c.modelsMetrics.Canceled++
	c.mu.Unlock()
	metrics.DownloadsCanceled.Inc()
}

func (c *Catalog) recordCompleted() {
	c.mu.Lock()
	c.modelsMetrics.Completed++
	c.mu.Unlock()
	metrics.DownloadsCompleted.Inc()
}

func (c *Catalog) recordCompletedCached() {
	c.mu.Lock()
	c.modelsMetrics.CompletedCached++
	c.mu.Unlock()
	metrics.DownloadsCompletedCached.Inc()
}

func (c *Catalog) recordError(code string) {
	c.mu.Lock()
	c.modelsMetrics.Errors++
	c.mu.Unlock()
	metrics.DownloadsErrors.WithLabelValues(code).Inc()
}

func (c *Catalog) recordBytes(n int64) {
	c.mu.Lock()
	c.modelsMetrics.BytesTotal += uint64(n)
	c.mu.Unlock()
	metrics.BytesTotal.Add(float64(n))
}

func (c *Catalog) recordPreflightOK() {
	c.mu.Lock()
	c.modelsMetrics.PreflightOK++
	c.mu.Unlock()
	metrics.PreflightOK.Inc()
}

func (c *Catalog) recordPreflightDenied(reason string) {
	c.mu.Lock()
	c.modelsMetrics.PreflightDenied++
	c.mu.Unlock()
	metrics.PreflightDenied.WithLabelValues(reason).Inc()
}

func (c *Catalog) recordPreflightSkipped() {
	c.mu.Lock()
	c.modelsMetrics.PreflightSkipped++
	c.mu.Unlock()
	metrics.PreflightSkipped.Inc()
}

func (c *Catalog) recordCoalesced() {
	c.mu.Lock()
	c.modelsMetrics.Coalesced++
	c.mu.Unlock()
	metrics.DownloadsCoalesced.Inc()
}

// updateEWMA folds a fresh throughput sample (MiB/s, despite the Mbps
// field/metric naming carried over from the original implementation)
// into the exponentially weighted moving average using alpha as the new
// sample's weight.
func (c *Catalog) updateEWMA(sampleMibps, alpha float64) {
	c.mu.Lock()
	if c.ewmaSamples == 0 {
		c.modelsMetrics.EWMAMbps = sampleMibps
	} else {
		c.modelsMetrics.EWMAMbps = alpha*sampleMibps + (1-alpha)*c.modelsMetrics.EWMAMbps
	}
	c.ewmaSamples++
	value := c.modelsMetrics.EWMAMbps
	c.mu.Unlock()
	metrics.ThroughputEWMAMbps.Set(value)
}
