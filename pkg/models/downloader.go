package models

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/modelsteward/pkg/log"
	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/cuemby/modelsteward/pkg/types"
	"github.com/google/uuid"
)

// downloadJob is the transient, downloader-owned record for the duration
// of one physical fetch. Dropped when its goroutine returns; a deferred
// guard always releases the admission slot and coalescer bucket even on
// panic.
type downloadJob struct {
	modelID   string
	jobID     string
	corrID    string
	cancel    chan struct{}
	startedAt time.Time
}

func newDownloadJob(modelID string) *downloadJob {
	return &downloadJob{
		modelID:   modelID,
		jobID:     uuid.NewString(),
		corrID:    uuid.NewString(),
		cancel:    make(chan struct{}),
		startedAt: time.Now(),
	}
}

func (j *downloadJob) Cancel() {
	select {
	case <-j.cancel:
	default:
		close(j.cancel)
	}
}

// run executes the full downloader algorithm for one job and returns the
// terminal outcome, fanning out progress events and writing catalog,
// manifest, and ledger state as it goes. cas existence, preflight, and
// admission are all handled here per the specification's single ordered
// algorithm.
func (s *Steward) run(job *downloadJob, url, provider, sha256Hex string) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DownloadDuration)

	logger := log.Logger.With().
		Str("model_id", job.modelID).
		Str("sha256", sha256Hex).
		Str("corr_id", job.corrID).
		Logger()

	defer func() {
		s.coalescer.ReleasePrimary(job.modelID)
		s.jobsMu.Lock()
		delete(s.jobs, job.modelID)
		s.jobsMu.Unlock()
	}()

	// 1. Cache short-circuit.
	if s.casStore.Exists(sha256Hex) {
		if verifyFileHash(s.casStore.Path(sha256Hex), sha256Hex) {
			logger.Info().Msg("cache hit, skipping network fetch")
			size, _ := s.casStore.Stat(sha256Hex)
			s.complete(job, sha256Hex, url, provider, size, size, true)
			return
		}
	}

	logger.Info().Str("url", redactURL(url)).Msg("download starting")
	s.catalog.recordStarted()
	s.fanout(job.modelID, ProgressEvent{Status: "started", CorrID: job.corrID})

	select {
	case <-job.cancel:
		s.canceled(job, sha256Hex, url)
		return
	default:
	}

	// Preflight.
	if s.cfg.PreflightEnabled {
		result := runPreflight(s.httpClient, url, s.cfg, s.casBytesStored())
		switch result.Outcome {
		case PreflightOutcomeDenied:
			s.catalog.recordPreflightDenied(result.Code)
			s.errorTerminal(job, sha256Hex, url, result.Code, "preflight denied")
			return
		case PreflightOutcomeSkip:
			s.catalog.recordPreflightSkipped()
		case PreflightOutcomeOK:
			s.catalog.recordPreflightOK()
		}
	}

	// Admission.
	s.catalog.recordQueued()
	if !s.admission.WaitForSlot(job.cancel) {
		s.canceled(job, sha256Hex, url)
		return
	}
	defer s.admission.Release()

	s.catalog.recordAdmitted()
	s.fanout(job.modelID, ProgressEvent{Status: "admitted", CorrID: job.corrID})

	select {
	case <-job.cancel:
		s.canceled(job, sha256Hex, url)
		return
	default:
	}

	// 2. Resume preparation.
	tmpPath := s.casStore.TempPath(sha256Hex)
	sidecar, _ := s.casStore.ReadSidecar(sha256Hex)
	hasher := sha256.New()
	var resumeFrom int64

	if info, err := os.Stat(tmpPath); err == nil {
		resumeFrom = info.Size()
		if resumeFrom > 0 {
			if err := rehashPrefix(tmpPath, hasher, resumeFrom); err != nil {
				_ = s.casStore.RemoveTemp(sha256Hex)
				resumeFrom = 0
				hasher = sha256.New()
			}
		}
	}

	resuming := resumeFrom > 0

	// 3-9. Send with retry, validate the response, persist resume
	// validators, and stream the body. The whole block is retried as a
	// unit, bounded by stream_retries, whenever the body read itself
	// fails partway through: each retry re-issues the GET with an
	// updated Range covering only the bytes still missing, using the
	// same linear backoff policy as the send retry above. Any other
	// terminal outcome (budget, quota, disk, idle timeout, hash
	// mismatch) stops immediately and is not retried here.
	var total int64
	var downloaded int64
	var canceledOut bool

	streamErr := retryLinear(s.cfg.StreamRetries, s.cfg.RetryBackoffMs, func() error {
		var resp *http.Response
		sendErr := retryLinear(s.cfg.SendRetries, s.cfg.RetryBackoffMs, func() error {
			req, err := http.NewRequest(http.MethodGet, url, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			if resuming {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
				if !sidecar.Empty() {
					if sidecar.ETag != "" {
						req.Header.Set("If-Range", sidecar.ETag)
					} else {
						req.Header.Set("If-Range", sidecar.LastModified)
					}
				}
			}
			r, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if sendErr != nil {
			code := CodeHTTP
			if te, ok := sendErr.(interface{ Timeout() bool }); ok && te.Timeout() {
				code = CodeRequestTimeout
			}
			return backoff.Permanent(newTerminalError(code, sendErr.Error()))
		}
		defer resp.Body.Close()

		// 4. Validate response.
		switch {
		case resuming && resp.StatusCode == http.StatusOK:
			// Resync: server ignored the range, restart fresh.
			resumeFrom = 0
			hasher = sha256.New()
			if err := os.Truncate(tmpPath, 0); err != nil && !os.IsNotExist(err) {
				return backoff.Permanent(newTerminalError(CodeIO, err.Error()))
			}
			total = resp.ContentLength
		case resuming && resp.StatusCode == http.StatusPartialContent:
			start, _, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
			if !ok || start != resumeFrom {
				return backoff.Permanent(newTerminalError(CodeResumeContentRange, "content-range start mismatch"))
			}
			total = size
			s.catalog.recordResumed()
			s.fanout(job.modelID, ProgressEvent{Status: "resumed", CorrID: job.corrID, Downloaded: resumeFrom, Total: total})
		case resuming:
			return backoff.Permanent(newTerminalError(CodeResumeHTTPStatus, resp.Status))
		default:
			if resp.StatusCode != http.StatusOK {
				return backoff.Permanent(newTerminalError(CodeHTTP, resp.Status))
			}
			total = resp.ContentLength
			if total > 0 {
				total += resumeFrom
			}
		}

		// 5. Persist validators for future resumes.
		newSidecar := types.ResumeSidecar{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		_ = s.casStore.WriteSidecar(sha256Hex, newSidecar)

		// 6-9. Stream with budget enforcement, progress emission, cancellation.
		n, err := s.stream(job, resp.Body, tmpPath, hasher, resumeFrom, total)
		downloaded = n
		if err == nil {
			return nil
		}
		if err == errCanceled {
			canceledOut = true
			return backoff.Permanent(err)
		}
		if sre, ok := err.(*streamReadError); ok {
			// Chunk read failure: resume past what's already on disk
			// and retry the GET with a fresh Range.
			resuming = true
			resumeFrom += n
			return sre
		}
		return backoff.Permanent(err)
	})

	if streamErr != nil {
		if canceledOut {
			s.canceled(job, sha256Hex, url)
			return
		}
		if _, ok := streamErr.(*streamReadError); ok {
			// stream_retries exhausted on body-read failures.
			s.errorTerminal(job, sha256Hex, url, CodeHTTP, streamErr.Error())
			return
		}
		if te, ok := streamErr.(*terminalError); ok {
			s.errorTerminal(job, sha256Hex, url, te.code, te.Error())
			return
		}
		s.errorTerminal(job, sha256Hex, url, CodeIO, streamErr.Error())
		return
	}

	// 9. Integrity check.
	f, err := os.OpenFile(tmpPath, os.O_RDWR, 0644)
	if err != nil {
		s.errorTerminal(job, sha256Hex, url, CodeIO, err.Error())
		return
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.errorTerminal(job, sha256Hex, url, CodeIO, err.Error())
		return
	}
	f.Close()

	actual := fmt.Sprintf("%x", hasher.Sum(nil))
	if actual != sha256Hex {
		_ = s.casStore.RemoveTemp(sha256Hex)
		s.errorTerminal(job, sha256Hex, url, CodeSHA256Mismatch, "", map[string]any{
			"expected": sha256Hex,
			"actual":   actual,
		})
		return
	}

	// 10. CAS promotion.
	if err := s.casStore.Promote(sha256Hex, tmpPath); err != nil {
		s.errorTerminal(job, sha256Hex, url, CodeIO, err.Error())
		return
	}

	// 11. Completion.
	s.catalog.recordBytes(downloaded)
	if elapsed := time.Since(job.startedAt).Seconds(); elapsed > 0 && downloaded > 0 {
		mibPerSec := float64(downloaded) / 1_048_576 / elapsed
		s.catalog.updateEWMA(mibPerSec, s.cfg.EWMAAlpha)
	}
	s.complete(job, sha256Hex, url, provider, downloaded+resumeFrom, downloaded+resumeFrom, false)
}

var errCanceled = fmt.Errorf("canceled")

// terminalError carries a failure code alongside the underlying message
// so the caller doesn't need to re-derive it from the error string.
type terminalError struct {
	code string
	msg  string
}

func (e *terminalError) Error() string { return e.msg }

func newTerminalError(code, msg string) error { return &terminalError{code: code, msg: msg} }

// streamReadError marks a failed read of the response body specifically
// (as opposed to a local disk error). These are the only stream failures
// retried against stream_retries; per spec they count against that
// budget and, once exhausted, are reported as CodeHTTP rather than
// CodeIO.
type streamReadError struct {
	err error
}

func (e *streamReadError) Error() string { return e.err.Error() }
func (e *streamReadError) Unwrap() error { return e.err }

// stream copies resp.Body into tmpPath, enforcing the idle timeout, soft
// and hard time budgets, disk reserve, absolute size limit, and quota,
// while folding every byte into hasher and emitting progress events on
// the configured cadence. It returns the number of bytes newly
// downloaded in this call (not counting any resumed prefix).
func (s *Steward) stream(job *downloadJob, body io.Reader, tmpPath string, hasher hash.Hash, resumeFrom, total int64) (int64, error) {
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Seek(resumeFrom, io.SeekStart); err != nil {
		return 0, err
	}

	start := time.Now()
	idleTimeout := time.Duration(s.cfg.IdleTimeoutSecs) * time.Second
	degradedEmitted := false

	var downloaded int64
	var sinceEmitBytes int64
	lastEmit := start

	buf := make([]byte, 256*1024)

	for {
		select {
		case <-job.cancel:
			return downloaded, errCanceled
		default:
		}

		n, readErr, timedOut, canceled := readWithTimeout(body, buf, idleTimeout, job.cancel)
		if canceled {
			return downloaded, errCanceled
		}
		if timedOut {
			return downloaded, newTerminalError(CodeIdleTimeout, "idle timeout waiting for next chunk")
		}

		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return downloaded, newTerminalError(CodeIO, werr.Error())
			}
			hasher.Write(buf[:n])
			downloaded += int64(n)
			sinceEmitBytes += int64(n)

			if s.cfg.MaxDownloadBytes > 0 && resumeFrom+downloaded > s.cfg.MaxDownloadBytes {
				return downloaded, newTerminalError(CodeSizeLimit, "download exceeded max_download_bytes")
			}
			if s.cfg.QuotaBytes > 0 && s.casBytesStored()+downloaded > s.cfg.QuotaBytes {
				return downloaded, newTerminalError(CodeQuotaExceeded, "download would exceed quota_bytes")
			}
		}

		elapsed := time.Since(start)
		elapsedMs := elapsed.Milliseconds()

		if s.cfg.HardMs > 0 && elapsedMs >= s.cfg.HardMs {
			return downloaded, newTerminalError(CodeHardBudget, "hard time budget exceeded")
		}
		if !degradedEmitted && s.cfg.SoftMs > 0 {
			threshold := s.cfg.SoftMs * int64(s.cfg.SoftDegradePct) / 100
			if elapsedMs >= threshold {
				degradedEmitted = true
				s.fanout(job.modelID, ProgressEvent{Status: "degraded", Code: CodeSoftBudget, CorrID: job.corrID})
			}
		}

		if avail, err := availableDiskBytes(s.cfg.StateDir); err == nil && avail <= s.cfg.DiskReserveBytes {
			return downloaded, newTerminalError(CodeDiskInsufficient, "disk reserve breached during transfer")
		}

		if sinceEmitBytes >= s.cfg.ProgressEmitBytes || time.Since(lastEmit) >= time.Duration(s.cfg.ProgressEmitInterval)*time.Millisecond {
			s.emitProgress(job, resumeFrom+downloaded, total, elapsedMs)
			sinceEmitBytes = 0
			lastEmit = time.Now()
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return downloaded, &streamReadError{err: readErr}
		}
	}

	return downloaded, nil
}

func (s *Steward) emitProgress(job *downloadJob, bytes, total, elapsedMs int64) {
	ev := ProgressEvent{
		Status:     "downloading",
		Bytes:      bytes,
		Downloaded: bytes,
		Total:      total,
		CorrID:     job.corrID,
	}
	if total > 0 {
		pct := float64(bytes) / float64(total) * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		ev.Percent = pct
	}
	if s.cfg.IncludeBudgetHint {
		ev.Budget = &BudgetHint{ElapsedMs: elapsedMs, SoftMs: s.cfg.SoftMs, HardMs: s.cfg.HardMs}
	}
	if s.cfg.IncludeDiskHint {
		if avail, err := availableDiskBytes(s.cfg.StateDir); err == nil {
			ev.Disk = &DiskHint{AvailableBytes: avail, ReserveBytes: s.cfg.DiskReserveBytes}
		}
	}
	s.fanout(job.modelID, ev)
}

// readWithTimeout reads one chunk from r, racing it against an idle timer
// and the cancel signal. A zero idle duration disables the timer.
func readWithTimeout(r io.Reader, buf []byte, idle time.Duration, cancel <-chan struct{}) (n int, err error, timedOut bool, canceled bool) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		ch <- result{n, err}
	}()

	var timerCh <-chan time.Time
	if idle > 0 {
		timer := time.NewTimer(idle)
		defer timer.Stop()
		timerCh = timer.C
	}

	select {
	case res := <-ch:
		return res.n, res.err, false, false
	case <-timerCh:
		return 0, nil, true, false
	case <-cancel:
		return 0, nil, false, true
	}
}

func verifyFileHash(path, expected string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return fmt.Sprintf("%x", h.Sum(nil)) == expected
}

func rehashPrefix(path string, h hash.Hash, n int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.CopyN(h, f, n)
	return err
}

// parseContentRange parses "bytes start-end/size" and reports success.
func parseContentRange(header string) (start, end, size int64, ok bool) {
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.SplitN(header, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, false
	}
	rangePart := strings.SplitN(parts[0], "-", 2)
	if len(rangePart) != 2 {
		return 0, 0, 0, false
	}
	s, err1 := strconv.ParseInt(rangePart[0], 10, 64)
	e, err2 := strconv.ParseInt(rangePart[1], 10, 64)
	sz, err3 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return s, e, sz, true
}
