package models

import (
	"time"

	"github.com/cuemby/modelsteward/pkg/events"
	"github.com/cuemby/modelsteward/pkg/log"
	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/cuemby/modelsteward/pkg/storage"
	"github.com/cuemby/modelsteward/pkg/types"
)

// appendLedger appends a terminal outcome (or preflight denial) to the
// egress ledger and mirrors the result on the event bus as
// egress.ledger.appended, carrying the assigned id or null on failure. The
// ledger is an external collaborator; the steward's only contract here is
// idempotent best-effort append.
func appendLedger(store storage.Store, publisher events.Publisher, entry *types.EgressLedgerEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ToolID == "" {
		entry.ToolID = "models.download"
	}

	logger := log.WithComponent("ledger")

	var id *string
	if store != nil {
		assigned, err := store.AppendLedgerEntry(entry)
		if err != nil {
			logger.Warn().Err(err).Str("corr_id", entry.CorrID).Msg("egress ledger append failed")
		} else {
			id = &assigned
		}
	}

	metrics.EgressLedgerAppended.WithLabelValues(entry.Decision).Inc()

	if publisher != nil {
		publisher.Publish(&events.Event{
			Topic: events.TopicEgressLedger,
			Payload: map[string]any{
				"id":       id,
				"corr_id":  entry.CorrID,
				"decision": entry.Decision,
			},
		})
	}
}
