package models

import (
	"sync"

	"github.com/cuemby/modelsteward/pkg/log"
	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/cuemby/modelsteward/pkg/types"
	"github.com/rs/zerolog"
)

// AdmissionController gates concurrent downloads to configuredMax =
// min(configured, hardCap?). No off-the-shelf dynamically-resizable
// weighted semaphore exists in the example pack for this shape (grow,
// shrink-with-optional-drain, FIFO-by-broadcast); a sync.Cond counting
// gate is the standard library idiom for exactly this and is documented
// as a deliberate stdlib choice in the design ledger.
type AdmissionController struct {
	mu        sync.Mutex
	cond      *sync.Cond
	active    int
	configured int
	hardCap   *int
	logger    zerolog.Logger
}

// NewAdmissionController creates a controller with the given initial
// configured maximum.
func NewAdmissionController(configured int) *AdmissionController {
	a := &AdmissionController{
		configured: configured,
		logger:     log.WithComponent("admission"),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *AdmissionController) effectiveMax() int {
	max := a.configured
	if a.hardCap != nil && *a.hardCap < max {
		max = *a.hardCap
	}
	return max
}

// WaitForSlot blocks until active < configuredMax, or returns early with
// false if cancel fires first.
func (a *AdmissionController) WaitForSlot(cancel <-chan struct{}) bool {
	done := make(chan struct{})
	defer close(done)

	// Bridge the cancel channel into a broadcast so a canceled waiter
	// wakes immediately instead of waiting for the next slot/config change.
	go func() {
		select {
		case <-cancel:
			a.cond.Broadcast()
		case <-done:
		}
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	for a.active >= a.effectiveMax() {
		select {
		case <-cancel:
			return false
		default:
		}
		a.cond.Wait()
		select {
		case <-cancel:
			return false
		default:
		}
	}

	a.active++
	return true
}

// Release frees one slot and wakes every waiter to re-check its predicate.
func (a *AdmissionController) Release() {
	a.mu.Lock()
	a.active--
	a.mu.Unlock()
	a.cond.Broadcast()
	metrics.ConcurrencyHeld.Set(float64(a.Snapshot().HeldPermits))
}

// SetConcurrency updates the bounds. If block is true and the new
// effective max is smaller than before, the call suspends until active is
// at or below the new max; otherwise it returns immediately.
func (a *AdmissionController) SetConcurrency(configured *int, hardCap *int, block bool) {
	a.mu.Lock()
	if configured != nil {
		a.configured = *configured
	}
	if hardCap != nil {
		a.hardCap = hardCap
	}
	newMax := a.effectiveMax()
	a.mu.Unlock()

	a.cond.Broadcast()
	metrics.ConcurrencyConfigured.Set(float64(newMax))

	if !block {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for a.active > newMax {
		a.cond.Wait()
	}
}

// Snapshot returns the current concurrency state.
func (a *AdmissionController) Snapshot() types.ConcurrencyState {
	a.mu.Lock()
	defer a.mu.Unlock()

	max := a.effectiveMax()
	available := max - a.active
	if available < 0 {
		available = 0
	}
	held := a.active
	if held > max {
		held = max
	}

	state := types.ConcurrencyState{
		ConfiguredMax:    max,
		AvailablePermits: available,
		HeldPermits:      held,
	}
	if a.hardCap != nil {
		hc := *a.hardCap
		state.HardCap = &hc
	}
	if pending := a.active - max; pending > 0 {
		state.PendingShrink = &pending
	}
	return state
}
