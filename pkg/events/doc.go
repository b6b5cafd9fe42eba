/*
Package events provides an in-memory event broker for the Model Steward's
progress and lifecycle notifications.

The steward never holds references to its subscribers; every stage of a
download (admission, resume, streaming, completion) publishes a typed Event
and moves on. This keeps the Catalog, Coalescer, and Downloader decoupled:
none of them call back into each other directly, they only call Publish.

# Topics

	models.download.progress  - per-job lifecycle: started, admitted,
	                             resumed, downloading, degraded, complete,
	                             canceled, error, coalesced
	models.changed             - catalog add/update/remove
	models.refreshed           - catalog reset to defaults
	models.cas.gc              - garbage collection sweep summary
	models.manifest.written    - a manifest was persisted
	egress.preview             - topic defined for preflight decision
	                             previews; the steward does not publish it
	egress.ledger.appended     - mirrors a ledger append, carrying its id

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for evt := range sub {
			switch evt.Topic {
			case events.TopicDownloadProgress:
				// evt.Payload is a models.ProgressEvent
			}
		}
	}()

	broker.Publish(&events.Event{Topic: events.TopicChanged, Payload: delta})

# Delivery semantics

Publish is non-blocking: a slow or absent subscriber never stalls a
download. Buffers are bounded (256 events at the broker, 64 per
subscriber); a full subscriber buffer silently drops the event rather than
blocking the publisher. This is a deliberate trade-off — progress events
are supplementary, not the system of record (the catalog and the egress
ledger are), so best-effort fan-out is acceptable.
*/
package events
