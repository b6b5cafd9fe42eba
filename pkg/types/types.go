package types

import "time"

// ModelStatus represents the lifecycle state of a ModelEntry in the catalog.
type ModelStatus string

const (
	ModelStatusAvailable   ModelStatus = "available"
	ModelStatusQueued      ModelStatus = "queued"
	ModelStatusDownloading ModelStatus = "downloading"
	ModelStatusCoalesced   ModelStatus = "coalesced"
	ModelStatusCanceled    ModelStatus = "canceled"
	ModelStatusError       ModelStatus = "error"
)

// ModelEntry is the durable catalog record for one model artifact.
//
// Invariant: if Status is ModelStatusAvailable, SHA256 and CASPath must be
// non-empty and the file at CASPath must exist on disk.
type ModelEntry struct {
	ID          string      `json:"id"`
	Provider    string      `json:"provider,omitempty"`
	Status      ModelStatus `json:"status"`
	SourceURL   string      `json:"source_url,omitempty"`
	SHA256      string      `json:"sha256,omitempty"`
	Bytes       int64       `json:"bytes,omitempty"`
	CASPath     string      `json:"cas_path,omitempty"`
	Cached      bool        `json:"cached,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
	ErrorMsg    string      `json:"error_message,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Manifest is the per-model on-disk document mirroring ModelEntry plus
// provenance. Written only after a download's integrity check succeeds.
type Manifest struct {
	ID           string      `json:"id"`
	Provider     string      `json:"provider,omitempty"`
	Status       ModelStatus `json:"status"`
	RedactedURL  string      `json:"redacted_url,omitempty"`
	SHA256       string      `json:"sha256"`
	Bytes        int64       `json:"bytes"`
	CASPath      string      `json:"cas_path"`
	Verified     bool        `json:"verified"`
	DownloadedAt time.Time   `json:"downloaded_at"`
}

// ConcurrencyState is a point-in-time snapshot of the Admission Controller.
type ConcurrencyState struct {
	ConfiguredMax   int  `json:"configured_max"`
	AvailablePermits int `json:"available_permits"`
	HeldPermits     int  `json:"held_permits"`
	HardCap         *int `json:"hard_cap,omitempty"`
	PendingShrink   *int `json:"pending_shrink,omitempty"`
}

// MetricsCounters holds the monotonic tallies and derived throughput
// estimate the Model Steward exports for observability.
type MetricsCounters struct {
	Started         uint64  `json:"started"`
	Queued          uint64  `json:"queued"`
	Admitted        uint64  `json:"admitted"`
	Resumed         uint64  `json:"resumed"`
	Canceled        uint64  `json:"canceled"`
	Completed       uint64  `json:"completed"`
	CompletedCached uint64  `json:"completed_cached"`
	Errors          uint64  `json:"errors"`
	BytesTotal      uint64  `json:"bytes_total"`
	PreflightOK     uint64  `json:"preflight_ok"`
	PreflightDenied uint64  `json:"preflight_denied"`
	PreflightSkipped uint64 `json:"preflight_skipped"`
	Coalesced       uint64  `json:"coalesced"`
	EWMAMbps        float64 `json:"ewma_mbps"`
}

// ResumeSidecar is the small JSON document kept beside a partial artifact,
// holding the validator captured from the original response so a resume
// can set If-Range. Either field may be empty; an entirely empty sidecar
// means no If-Range header should be sent.
type ResumeSidecar struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Empty reports whether neither validator was captured.
func (s ResumeSidecar) Empty() bool {
	return s.ETag == "" && s.LastModified == ""
}

// EgressLedgerEntry is an append-only record of one network effect caused
// by the steward, mirrored to the event bus as egress.ledger.appended.
type EgressLedgerEntry struct {
	ID          string            `json:"id,omitempty"`
	Decision    string            `json:"decision"` // "allow" | "deny"
	ReasonCode  string            `json:"reason_code"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Protocol    string            `json:"protocol"`
	BytesIn     int64             `json:"bytes_in"`
	BytesOut    int64             `json:"bytes_out"`
	DurationMs  int64             `json:"duration_ms"`
	CorrID      string            `json:"corr_id"`
	Posture     string            `json:"posture,omitempty"`
	ProjectID   string            `json:"project_id,omitempty"`
	ToolID      string            `json:"tool_id"`
	Meta        map[string]string `json:"meta,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// ModelSummary is the response shape for summary(): the full item list plus
// the derived views other subsystems need in one consistent read.
type ModelSummary struct {
	Items        []*ModelEntry     `json:"items"`
	Default      string            `json:"default,omitempty"`
	Concurrency  ConcurrencyState  `json:"concurrency"`
	Metrics      MetricsCounters   `json:"metrics"`
}

// HashIndexEntry is one row of the derived digest -> provenance index.
type HashIndexEntry struct {
	SHA256         string   `json:"sha256"`
	Bytes          int64    `json:"bytes"`
	Path           string   `json:"path"`
	Providers      []string `json:"providers"`
	Models         []string `json:"models"`
	ProvidersCount int      `json:"providers_count"`
}

// CASGCRecord describes one file removed by a garbage collection sweep,
// included in the sweep result only when the sweep was run verbose.
type CASGCRecord struct {
	SHA256       string    `json:"sha256"`
	Path         string    `json:"path"`
	Bytes        int64     `json:"bytes"`
	LastModified time.Time `json:"last_modified"`
}

// CASGCResult is the aggregate payload returned by a garbage collection
// sweep and published on models.cas.gc.
type CASGCResult struct {
	Kept         int           `json:"kept"`
	Deleted      int           `json:"deleted"`
	DeletedBytes int64         `json:"deleted_bytes"`
	Records      []CASGCRecord `json:"records,omitempty"`
}

// HashPage is the paginated response shape for hashes_page().
type HashPage struct {
	Items      []*HashIndexEntry `json:"items"`
	Total      int               `json:"total"`
	Count      int               `json:"count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	PrevOffset *int              `json:"prev_offset,omitempty"`
	NextOffset *int              `json:"next_offset,omitempty"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	LastOffset int               `json:"last_offset"`
}
