package models

import (
	"github.com/cuemby/modelsteward/pkg/events"
)

// BudgetHint is the optional time-budget snapshot embedded in a progress
// event when include_budget_hint is enabled.
type BudgetHint struct {
	ElapsedMs int64 `json:"elapsed_ms"`
	SoftMs    int64 `json:"soft_ms,omitempty"`
	HardMs    int64 `json:"hard_ms,omitempty"`
}

// DiskHint is the optional disk-space snapshot embedded in a progress
// event when include_disk_hint is enabled.
type DiskHint struct {
	AvailableBytes int64 `json:"available_bytes"`
	ReserveBytes   int64 `json:"reserve_bytes"`
}

// ProgressEvent is the shared envelope for every event published on
// models.download.progress. ID is filled in per-target by fanout.
type ProgressEvent struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Code       string         `json:"code,omitempty"`
	Bytes      int64          `json:"bytes,omitempty"`
	Downloaded int64          `json:"downloaded,omitempty"`
	Total      int64          `json:"total,omitempty"`
	Percent    float64        `json:"percent,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	CorrID     string         `json:"corr_id,omitempty"`
	Cached     bool           `json:"cached,omitempty"`
	Budget     *BudgetHint    `json:"budget,omitempty"`
	Disk       *DiskHint      `json:"disk,omitempty"`
}

// fanout publishes ev once per progress target of modelID (the primary
// plus any followers when modelID is a primary), substituting each
// target's own id. Per the ordering guarantee, the primary's own copy is
// published first.
func (s *Steward) fanout(modelID string, ev ProgressEvent) {
	targets := s.coalescer.ProgressTargets(modelID)
	for _, target := range targets {
		copyEv := ev
		copyEv.ID = target
		if target != modelID {
			copyEv.Cached = true
		}
		s.publisher.Publish(&events.Event{Topic: events.TopicDownloadProgress, Payload: copyEv})
	}
}
