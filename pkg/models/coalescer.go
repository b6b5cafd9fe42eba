package models

import "sync"

// RegisterResult is the outcome of registering a model id for a digest:
// either it became the primary (the job that performs the physical
// fetch) or a follower of an already-registered primary.
type RegisterResult struct {
	IsPrimary bool
	PrimaryID string
}

type hashBucket struct {
	digest    string
	primary   string
	followers []string
}

// Coalescer ensures that for any digest at most one physical fetch is in
// flight; late arrivals for the same digest attach as followers to the
// primary's progress stream. Guarded by a single mutex; every call is
// short, per the specification's concurrency model.
type Coalescer struct {
	mu        sync.Mutex
	byDigest  map[string]*hashBucket
	modelToDigest map[string]string
}

// NewCoalescer creates an empty coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{
		byDigest:      make(map[string]*hashBucket),
		modelToDigest: make(map[string]string),
	}
}

// Register attaches modelID to digest, atomically. A model id may be
// registered under only one digest at a time.
func (c *Coalescer) Register(modelID, digest string) RegisterResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.byDigest[digest]
	if !ok {
		bucket = &hashBucket{digest: digest, primary: modelID}
		c.byDigest[digest] = bucket
		c.modelToDigest[modelID] = digest
		return RegisterResult{IsPrimary: true}
	}

	bucket.followers = append(bucket.followers, modelID)
	c.modelToDigest[modelID] = digest
	return RegisterResult{IsPrimary: false, PrimaryID: bucket.primary}
}

// ReleasePrimary removes the whole bucket owned by modelID's digest and
// returns the followers that must be notified with the primary's terminal
// status. If modelID was not a primary, it returns nil.
func (c *Coalescer) ReleasePrimary(modelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest, ok := c.modelToDigest[modelID]
	if !ok {
		return nil
	}
	bucket, ok := c.byDigest[digest]
	if !ok || bucket.primary != modelID {
		return nil
	}

	followers := bucket.followers
	delete(c.byDigest, digest)
	delete(c.modelToDigest, modelID)
	for _, f := range followers {
		delete(c.modelToDigest, f)
	}
	return followers
}

// ReleaseModel removes modelID from its bucket. If it was the primary and
// followers remain, one follower is promoted to primary and its new id
// returned; otherwise the bucket is deleted (if empty) and "" is returned.
func (c *Coalescer) ReleaseModel(modelID string) (promoted string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest, ok := c.modelToDigest[modelID]
	if !ok {
		return ""
	}
	bucket, ok := c.byDigest[digest]
	if !ok {
		delete(c.modelToDigest, modelID)
		return ""
	}

	delete(c.modelToDigest, modelID)

	if bucket.primary == modelID {
		if len(bucket.followers) == 0 {
			delete(c.byDigest, digest)
			return ""
		}
		newPrimary := bucket.followers[0]
		bucket.primary = newPrimary
		bucket.followers = bucket.followers[1:]
		return newPrimary
	}

	for i, f := range bucket.followers {
		if f == modelID {
			bucket.followers = append(bucket.followers[:i], bucket.followers[i+1:]...)
			break
		}
	}
	return ""
}

// ProgressTargets returns the ids that should receive a progress event
// originating from modelID's job: the primary plus all followers when
// modelID is the primary, or just modelID otherwise.
func (c *Coalescer) ProgressTargets(modelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest, ok := c.modelToDigest[modelID]
	if !ok {
		return []string{modelID}
	}
	bucket, ok := c.byDigest[digest]
	if !ok || bucket.primary != modelID {
		return []string{modelID}
	}

	targets := make([]string, 0, len(bucket.followers)+1)
	targets = append(targets, bucket.primary)
	targets = append(targets, bucket.followers...)
	return targets
}

// FollowersOfPrimary returns the current followers of modelID, or nil if
// modelID is not an active primary.
func (c *Coalescer) FollowersOfPrimary(modelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest, ok := c.modelToDigest[modelID]
	if !ok {
		return nil
	}
	bucket, ok := c.byDigest[digest]
	if !ok || bucket.primary != modelID {
		return nil
	}
	out := make([]string, len(bucket.followers))
	copy(out, bucket.followers)
	return out
}

// InflightRecord is one row of the coalescer's inflight snapshot, exported
// for metrics.
type InflightRecord struct {
	Digest    string
	Primary   string
	Followers []string
	Total     int
}

// InflightSnapshot returns one record per active bucket.
func (c *Coalescer) InflightSnapshot() []InflightRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]InflightRecord, 0, len(c.byDigest))
	for digest, bucket := range c.byDigest {
		followers := make([]string, len(bucket.followers))
		copy(followers, bucket.followers)
		out = append(out, InflightRecord{
			Digest:    digest,
			Primary:   bucket.primary,
			Followers: followers,
			Total:     1 + len(followers),
		})
	}
	return out
}
