/*
Package cas implements the content-addressed store the Model Steward
promotes verified downloads into, plus the garbage collector that reclaims
unreferenced artifacts.

# Layout

	<base>/by-hash/<sha256>       one file per verified artifact
	<base>/tmp/<sha256>.part      the in-progress download
	<base>/tmp/<sha256>.part.meta the resume sidecar (ETag / Last-Modified)

A digest is the only name a file ever has; two models that happen to
share a payload share the same by-hash entry.

# Promotion

Promote first attempts os.Rename, which is atomic within the same
filesystem. If the rename fails (for example with a cross-device error
when the store's base directory lives on a different volume than the
temp directory), Promote falls back to copy-then-remove. In both paths
an existing by-hash file for the same digest is replaced by the new one
rather than kept.

# Garbage collection

Sweep deletes by-hash files that are both unreferenced (per the caller's
DigestSet, ordinarily the Model Steward's HashIndex) and older than the
configured TTL. The grace window exists because a file can be present on
disk moments before the catalog or manifest write that would make the
index see it as live; deleting it in that window would be a race, not a
cleanup.
*/
package cas
