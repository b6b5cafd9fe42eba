package models

import (
	"net/http"

	"github.com/cuemby/modelsteward/pkg/metrics"
)

// PreflightOutcome is the closed set of results a preflight probe can
// produce.
type PreflightOutcome string

const (
	PreflightOutcomeOK     PreflightOutcome = "ok"
	PreflightOutcomeSkip   PreflightOutcome = "skip"
	PreflightOutcomeDenied PreflightOutcome = "denied"
)

// PreflightInfo carries the hints a successful HEAD probe captured.
type PreflightInfo struct {
	ContentLength int64
	ETag          string
	LastModified  string
}

// PreflightResult is the outcome of runPreflight.
type PreflightResult struct {
	Outcome    PreflightOutcome
	Info       PreflightInfo
	Code       string // set when Outcome == Denied
	SkipReason string // set when Outcome == Skip
}

// runPreflight issues a best-effort HEAD request and evaluates the
// size/quota/disk gates against the reported Content-Length, when known.
func runPreflight(client *http.Client, url string, cfg Config, currentCASBytes int64) PreflightResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PreflightDuration)

	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return PreflightResult{Outcome: PreflightOutcomeSkip, SkipReason: err.Error()}
	}

	resp, err := client.Do(req)
	if err != nil {
		return PreflightResult{Outcome: PreflightOutcomeSkip, SkipReason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return PreflightResult{Outcome: PreflightOutcomeSkip, SkipReason: resp.Status}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PreflightResult{Outcome: PreflightOutcomeDenied, Code: CodePreflightHTTP}
	}

	info := PreflightInfo{
		ContentLength: resp.ContentLength,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
	}

	if info.ContentLength > 0 {
		if cfg.MaxDownloadBytes > 0 && info.ContentLength > cfg.MaxDownloadBytes {
			return PreflightResult{Outcome: PreflightOutcomeDenied, Code: CodeSizeLimit, Info: info}
		}
		if cfg.QuotaBytes > 0 && currentCASBytes+info.ContentLength > cfg.QuotaBytes {
			return PreflightResult{Outcome: PreflightOutcomeDenied, Code: CodeQuotaExceeded, Info: info}
		}
		if avail, err := availableDiskBytes(cfg.StateDir); err == nil {
			if avail <= cfg.DiskReserveBytes || avail-cfg.DiskReserveBytes < info.ContentLength {
				return PreflightResult{Outcome: PreflightOutcomeDenied, Code: CodeDiskInsufficient, Info: info}
			}
		}
	}

	return PreflightResult{Outcome: PreflightOutcomeOK, Info: info}
}
