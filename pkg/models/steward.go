package models

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/modelsteward/pkg/cas"
	"github.com/cuemby/modelsteward/pkg/events"
	"github.com/cuemby/modelsteward/pkg/log"
	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/cuemby/modelsteward/pkg/storage"
	"github.com/cuemby/modelsteward/pkg/types"
	"github.com/rs/zerolog"
)

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// StartDownloadRequest is the submission contract for StartDownload. URL
// may be empty, in which case the catalog's recorded URL for ID is used.
type StartDownloadRequest struct {
	ID       string
	URL      string
	Provider string
	SHA256   string
}

func (r StartDownloadRequest) validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if !sha256Pattern.MatchString(r.SHA256) {
		return ErrInvalidSha
	}
	if r.URL != "" && !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return ErrInvalidScheme
	}
	return nil
}

// Steward is the top-level Model Steward: the embedding surface other
// in-process collaborators (an HTTP admin layer, a policy engine, the CLI)
// build on. It owns the catalog, admission controller, coalescer, CAS
// store, and egress ledger bridge, wiring them together exactly per the
// component dependency order (CAS & GC -> Catalog -> Events -> Ledger ->
// Preflight -> Admission -> Coalescer -> Downloader).
type Steward struct {
	cfg Config

	catalog   *Catalog
	admission *AdmissionController
	coalescer *Coalescer
	casStore  *cas.Store
	ledger    storage.Store
	publisher events.Publisher

	httpClient *http.Client

	jobs   map[string]*downloadJob
	jobsMu sync.Mutex

	collector *metrics.Collector
	logger    zerolog.Logger
}

// New constructs a Steward from cfg, creating the on-disk layout under
// cfg.StateDir if it does not already exist and hydrating the catalog
// from models.json.
func New(cfg Config) (*Steward, error) {
	cfg = cfg.withDefaults()

	modelsDir := cfg.StateDir + "/models"
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return nil, fmt.Errorf("create models state directory: %w", err)
	}

	casStore, err := cas.NewStore(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("create cas store: %w", err)
	}

	ledger, err := storage.NewBoltStore(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open egress ledger: %w", err)
	}

	publisher := events.NewBroker()
	publisher.Start()

	catalog := NewCatalog(cfg.StateDir, publisher)
	if err := catalog.Load(); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	admission := NewAdmissionController(cfg.MaxConcurrency)
	catalog.SetConcurrencySource(admission.Snapshot)

	// ResponseHeaderTimeout bounds how long a send waits for a peer to
	// start responding at all (dead connection, black-holed request). It
	// deliberately does not bound the body read itself: a slow but
	// progressing transfer is governed by IdleTimeoutSecs inside stream(),
	// not here.
	httpClient := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		},
	}

	collector := metrics.NewCollector(catalog)
	collector.Start()

	metrics.RegisterComponent("catalog", true, "loaded")
	metrics.RegisterComponent("cas", true, "ready")
	metrics.RegisterComponent("downloader", true, "ready")

	s := &Steward{
		cfg:        cfg,
		catalog:    catalog,
		admission:  admission,
		coalescer:  NewCoalescer(),
		casStore:   casStore,
		ledger:     ledger,
		publisher:  publisher,
		httpClient: httpClient,
		jobs:       make(map[string]*downloadJob),
		collector:  collector,
		logger:     log.WithComponent("models"),
	}
	return s, nil
}

// Broker exposes the in-process event broker for subscribers (CLI
// rendering, an admin HTTP surface) that want a live feed. Returns nil if
// the publisher is not a *events.Broker (e.g. a test double).
func (s *Steward) Broker() *events.Broker {
	if b, ok := s.publisher.(*events.Broker); ok {
		return b
	}
	return nil
}

// Close releases the egress ledger, event broker, and metrics collector.
func (s *Steward) Close() error {
	if b := s.Broker(); b != nil {
		b.Stop()
	}
	s.collector.Stop()
	return s.ledger.Close()
}

// Catalog exposes the underlying catalog for read-only callers (CLI list,
// hashes page).
func (s *Steward) Catalog() *Catalog { return s.catalog }

// Summary delegates to the catalog.
func (s *Steward) Summary() types.ModelSummary { return s.catalog.Summary() }

// List delegates to the catalog.
func (s *Steward) List() []*types.ModelEntry { return s.catalog.List() }

// HashesPage delegates to the catalog.
func (s *Steward) HashesPage(limit, offset int, provider, model, sortBy, order string) types.HashPage {
	return s.catalog.HashesPage(limit, offset, provider, model, sortBy, order)
}

// CASGC runs a garbage collection sweep over the content-addressed store.
func (s *Steward) CASGC(ttlHours int, verbose bool) (types.CASGCResult, error) {
	return runCASGC(s.casStore, s.catalog, s.publisher, ttlHours, verbose)
}

func (s *Steward) casBytesStored() int64 {
	var total int64
	for _, e := range s.catalog.List() {
		if e.Status == types.ModelStatusAvailable {
			total += e.Bytes
		}
	}
	metrics.CASBytesStored.Set(float64(total))
	return total
}

// StartDownload validates req and either starts a fresh physical fetch or
// coalesces onto an in-flight one for the same digest. It returns as soon
// as the job has been registered; progress is observed through the event
// broker.
func (s *Steward) StartDownload(req StartDownloadRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	url := req.URL
	if url == "" {
		for _, e := range s.catalog.List() {
			if e.ID == req.ID && e.SourceURL != "" {
				url = e.SourceURL
				break
			}
		}
		if url == "" {
			return ErrURLMissing
		}
	}

	job := newDownloadJob(req.ID)

	result := s.coalescer.Register(req.ID, req.SHA256)
	if !result.IsPrimary {
		s.catalog.recordCoalesced()
		s.catalog.Add(&types.ModelEntry{
			ID:        req.ID,
			Provider:  req.Provider,
			Status:    types.ModelStatusCoalesced,
			SourceURL: url,
			SHA256:    req.SHA256,
		})
		s.fanout(req.ID, ProgressEvent{
			Status: "coalesced",
			Extra:  map[string]any{"primary": result.PrimaryID},
			CorrID: job.corrID,
		})
		return nil
	}

	s.catalog.Add(&types.ModelEntry{
		ID:        req.ID,
		Provider:  req.Provider,
		Status:    types.ModelStatusQueued,
		SourceURL: url,
		SHA256:    req.SHA256,
	})

	s.jobsMu.Lock()
	s.jobs[req.ID] = job
	s.jobsMu.Unlock()

	go s.run(job, url, req.Provider, req.SHA256)
	return nil
}

// CancelDownload cancels the active job for id, if any. A missing handle
// is non-fatal: it still emits a no-active-job progress event. Idempotent:
// a second call against an already-canceled job is a no-op.
func (s *Steward) CancelDownload(id string) {
	s.jobsMu.Lock()
	job, ok := s.jobs[id]
	s.jobsMu.Unlock()

	if !ok {
		s.fanout(id, ProgressEvent{Status: "error", Code: CodeNoActiveJob, ErrorCode: CodeNoActiveJob})
		return
	}
	job.Cancel()
}

// --- Terminal outcome helpers ------------------------------------------

func (s *Steward) complete(job *downloadJob, digest, url, provider string, bytes, total int64, cached bool) {
	entry := &types.ModelEntry{
		ID:        job.modelID,
		Provider:  provider,
		Status:    types.ModelStatusAvailable,
		SourceURL: url,
		SHA256:    digest,
		Bytes:     bytes,
		CASPath:   s.casStore.Path(digest),
		Cached:    cached,
	}
	s.catalog.Add(entry)

	manifest := &types.Manifest{
		ID:           job.modelID,
		Provider:     provider,
		Status:       types.ModelStatusAvailable,
		RedactedURL:  redactURL(url),
		SHA256:       digest,
		Bytes:        bytes,
		CASPath:      entry.CASPath,
		Verified:     true,
		DownloadedAt: time.Now(),
	}
	if err := s.catalog.SaveManifest(manifest); err != nil {
		s.logger.Error().Err(err).Str("id", job.modelID).Msg("failed to write manifest")
	}
	if err := s.catalog.Save(); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist catalog")
	}

	if cached {
		s.catalog.recordCompletedCached()
	} else {
		s.catalog.recordCompleted()
	}

	s.fanout(job.modelID, ProgressEvent{
		Status:     "complete",
		Code:       ternary(cached, CodeCached, ""),
		Bytes:      bytes,
		Downloaded: bytes,
		Total:      total,
		Percent:    100,
		CorrID:     job.corrID,
		Cached:     cached,
	})

	appendLedger(s.ledger, s.publisher, &types.EgressLedgerEntry{
		Decision:   "allow",
		ReasonCode: "ok",
		Host:       hostOf(url),
		CorrID:     job.corrID,
		BytesIn:    bytes,
	})
}

func (s *Steward) canceled(job *downloadJob, digest, url string) {
	_ = s.casStore.RemoveTemp(digest)
	s.catalog.recordCanceled()

	s.catalog.Add(&types.ModelEntry{
		ID:     job.modelID,
		Status: types.ModelStatusCanceled,
		SHA256: digest,
	})

	s.fanout(job.modelID, ProgressEvent{Status: "canceled", CorrID: job.corrID})

	appendLedger(s.ledger, s.publisher, &types.EgressLedgerEntry{
		Decision:   "deny",
		ReasonCode: "canceled",
		Host:       hostOf(url),
		CorrID:     job.corrID,
	})
}

func (s *Steward) errorTerminal(job *downloadJob, digest, url, code, msg string, extra ...map[string]any) {
	_ = s.casStore.RemoveTemp(digest)
	s.catalog.recordError(code)

	s.catalog.Add(&types.ModelEntry{
		ID:        job.modelID,
		Status:    types.ModelStatusError,
		SHA256:    digest,
		ErrorCode: code,
		ErrorMsg:  msg,
	})

	ev := ProgressEvent{Status: "error", Code: code, ErrorCode: code, CorrID: job.corrID}
	if len(extra) > 0 {
		ev.Extra = extra[0]
	}
	s.fanout(job.modelID, ev)

	appendLedger(s.ledger, s.publisher, &types.EgressLedgerEntry{
		Decision:   "deny",
		ReasonCode: code,
		Host:       hostOf(url),
		CorrID:     job.corrID,
	})
}

func ternary(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

func hostOf(rawURL string) string {
	redacted := redactURL(rawURL)
	redacted = strings.TrimPrefix(redacted, "https://")
	redacted = strings.TrimPrefix(redacted, "http://")
	if i := strings.IndexAny(redacted, "/:"); i >= 0 {
		return redacted[:i]
	}
	return redacted
}
