package grid

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/gridledger/internal/models"
)

// Capacity is the zone-wide ledger of capacity consumed under the current
// snapshot version. Every book of the zone draws on it, whatever its window.
// Hold the lock from reading the snapshot until the consumption is stored.
type Capacity struct {
	sync.Mutex
	version  uint64
	consumed decimal.Decimal
}

// Load copies the zone's consumption under snap into flow, rebasing on a
// newer version. The caller holds the lock.
func (c *Capacity) Load(snap models.GridSnapshot, flow *Flow) {
	if snap.Version > c.version {
		c.version = snap.Version
		c.consumed = decimal.Zero
	}
	flow.SnapshotVersion = c.version
	flow.Consumed = c.consumed
}

// Store takes back what flow consumed. The caller holds the lock.
func (c *Capacity) Store(flow Flow) {
	if flow.SnapshotVersion == c.version && flow.Consumed.GreaterThan(c.consumed) {
		c.consumed = flow.Consumed
	}
}

// Consumed reports the capacity used under version
func (c *Capacity) Consumed(version uint64) decimal.Decimal {
	c.Lock()
	defer c.Unlock()
	if version != c.version {
		return decimal.Zero
	}
	return c.consumed
}
