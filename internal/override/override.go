package override

import (
	"fmt"
	"sync"
	"time"

	"github.com/xtrntr/gridledger/internal/models"
)

// Verifier checks an authority signature over a canonical payload
type Verifier interface {
	Verify(authority models.AuthorityType, signature string, payload []byte) error
}

// Guard admits an override only when its signature verifies and has not
// been seen before. Signatures are remembered for the retention period.
type Guard struct {
	verifier  Verifier
	retention time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewGuard(verifier Verifier, retention time.Duration) *Guard {
	return &Guard{verifier: verifier, retention: retention, seen: make(map[string]time.Time)}
}

// Admit verifies o. Nothing is recorded for a rejected override.
func (g *Guard) Admit(o models.AuthorityOverride, now time.Time) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.Signature == "" || g.verifier == nil {
		return fmt.Errorf("%s %s: %w", o.Authority, o.Action, models.ErrUnverifiedAuthority)
	}
	payload, err := o.Payload()
	if err != nil {
		return fmt.Errorf("encode override: %w", models.ErrInvalidOverride)
	}
	if err := g.verifier.Verify(o.Authority, o.Signature, payload); err != nil {
		return fmt.Errorf("%s %s: %w: %w", o.Authority, o.Action, models.ErrUnverifiedAuthority, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(now)
	if _, replay := g.seen[o.Signature]; replay {
		return fmt.Errorf("%s %s replayed: %w", o.Authority, o.Action, models.ErrUnverifiedAuthority)
	}
	g.seen[o.Signature] = now
	return nil
}

func (g *Guard) prune(now time.Time) {
	if g.retention <= 0 {
		return
	}
	for sig, at := range g.seen {
		if now.Sub(at) > g.retention {
			delete(g.seen, sig)
		}
	}
}
