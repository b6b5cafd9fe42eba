/*
Package types defines the core data structures used throughout the Model
Steward.

This package contains the domain model shared by the catalog, coalescer,
admission controller, downloader, CAS/GC, and egress ledger bridge: the
durable ModelEntry and Manifest records, the derived HashIndex response
shapes, the resume sidecar, the egress ledger entry, and the metrics and
concurrency snapshots exposed to callers.

# Core Types

  - ModelEntry: the catalog's durable per-model record.
  - Manifest: the on-disk provenance document written after a verified
    download.
  - ResumeSidecar: the small JSON document beside a partial artifact that
    carries the ETag/Last-Modified validator for If-Range resumption.
  - EgressLedgerEntry: one append-only record of a network effect.
  - ModelSummary / HashPage: read-only response shapes returned by the
    catalog's summary() and hashes_page() operations.

All types are plain structs designed to be JSON-serializable and safe to
copy by value for snapshots; mutation always goes through the owning
component (the Catalog, the Coalescer, or the Downloader), never directly
on a shared instance.
*/
package types
