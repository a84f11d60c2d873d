package grid

import (
	"sync"

	"github.com/xtrntr/gridledger/internal/models"
)

// Snapshots keeps the newest snapshot seen per zone
type Snapshots struct {
	mu     sync.RWMutex
	latest map[models.Zone]models.GridSnapshot
}

func NewSnapshots() *Snapshots {
	return &Snapshots{latest: make(map[models.Zone]models.GridSnapshot)}
}

// Update installs snap unless an equal or newer snapshot is already in use
func (s *Snapshots) Update(snap models.GridSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.latest[snap.Zone]; ok && !snap.NewerThan(cur) {
		return false
	}
	s.latest[snap.Zone] = snap
	return true
}

// Latest returns the snapshot in use for zone
func (s *Snapshots) Latest(zone models.Zone) (models.GridSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.latest[zone]
	return snap, ok
}
