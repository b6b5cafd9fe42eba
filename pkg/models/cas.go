package models

import (
	"time"

	"github.com/cuemby/modelsteward/pkg/cas"
	"github.com/cuemby/modelsteward/pkg/events"
	"github.com/cuemby/modelsteward/pkg/log"
	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/cuemby/modelsteward/pkg/types"
)

// runCASGC builds the HashIndex (forcing a rebuild if invalidated via
// Contains), sweeps the content-addressed store for anything unreferenced
// and past the TTL grace window, and publishes the aggregate on
// models.cas.gc.
func runCASGC(store *cas.Store, catalog *Catalog, publisher events.Publisher, ttlHours int, verbose bool) (types.CASGCResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CASGCDuration)

	logger := log.WithComponent("cas-gc")

	// Force a HashIndex rebuild before sweeping, per the specified algorithm.
	catalog.Contains("")

	ttl := time.Duration(ttlHours) * time.Hour
	result, err := store.Sweep(catalog, ttl, verbose)
	if err != nil {
		logger.Error().Err(err).Msg("cas gc sweep failed")
		return result, err
	}

	metrics.CASGCSweeps.Inc()
	metrics.CASGCBytesReclaimed.Add(float64(result.DeletedBytes))

	if publisher != nil {
		publisher.Publish(&events.Event{Topic: events.TopicCASGC, Payload: result})
	}

	logger.Info().
		Int("kept", result.Kept).
		Int("deleted", result.Deleted).
		Int64("deleted_bytes", result.DeletedBytes).
		Msg("cas gc sweep complete")

	return result, nil
}
