package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/fullsend/fullsend/pkg/types"
)

// Deduper suppresses repeat alerts: an alert of the same (experiment, kind)
// inside the cooldown window is dropped. Prevents alert storms when a
// metric hovers near a threshold.
type Deduper struct {
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewDeduper creates a deduper. now may be nil, defaulting to time.Now;
// tests inject a fake clock.
func NewDeduper(cooldown time.Duration, now func() time.Time) *Deduper {
	if now == nil {
		now = time.Now
	}
	return &Deduper{
		cooldown: cooldown,
		now:      now,
		lastSent: make(map[string]time.Time),
	}
}

// Allow reports whether an alert may be sent. It does not open the
// cooldown window; callers Record after the alert is actually delivered,
// so a failed publish does not suppress the retry.
func (d *Deduper) Allow(experimentID string, kind types.AlertKind) bool {
	key := dedupeKey(experimentID, kind)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	last, seen := d.lastSent[key]
	return !seen || now.Sub(last) >= d.cooldown
}

// Record marks an alert as sent, opening the cooldown window.
func (d *Deduper) Record(experimentID string, kind types.AlertKind) {
	key := dedupeKey(experimentID, kind)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSent[key] = d.now()
}

func dedupeKey(experimentID string, kind types.AlertKind) string {
	return fmt.Sprintf("%s:%s", experimentID, kind)
}

// Clear forgets all cooldown state.
func (d *Deduper) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSent = make(map[string]time.Time)
}
