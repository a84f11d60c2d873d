package override

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

// stubVerifier accepts signatures equal to "ok:" + authority
type stubVerifier struct{}

func (stubVerifier) Verify(a models.AuthorityType, sig string, _ []byte) error {
	if sig != "ok:"+string(a) {
		return errors.New("bad signature")
	}
	return nil
}

func halt(sig string) models.AuthorityOverride {
	return models.AuthorityOverride{
		Authority: models.AuthorityGridOperator,
		Action:    models.ActionHaltZone,
		Zone:      "north",
		Signature: sig,
	}
}

func TestGuard_Admit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("valid then replayed", func(t *testing.T) {
		g := NewGuard(stubVerifier{}, time.Hour)
		require.NoError(t, g.Admit(halt("ok:grid_operator"), now))
		assert.ErrorIs(t, g.Admit(halt("ok:grid_operator"), now.Add(time.Second)), models.ErrUnverifiedAuthority)
	})

	t.Run("bad signature not remembered", func(t *testing.T) {
		g := NewGuard(stubVerifier{}, time.Hour)
		assert.ErrorIs(t, g.Admit(halt("forged"), now), models.ErrUnverifiedAuthority)
		assert.Empty(t, g.seen)
	})

	t.Run("missing signature", func(t *testing.T) {
		g := NewGuard(stubVerifier{}, time.Hour)
		assert.ErrorIs(t, g.Admit(halt(""), now), models.ErrUnverifiedAuthority)
	})

	t.Run("no verifier configured", func(t *testing.T) {
		g := NewGuard(nil, time.Hour)
		assert.ErrorIs(t, g.Admit(halt("ok:grid_operator"), now), models.ErrUnverifiedAuthority)
	})

	t.Run("malformed override", func(t *testing.T) {
		g := NewGuard(stubVerifier{}, time.Hour)
		o := halt("ok:grid_operator")
		o.Zone = ""
		assert.ErrorIs(t, g.Admit(o, now), models.ErrInvalidOverride)
	})

	t.Run("retention prunes", func(t *testing.T) {
		g := NewGuard(stubVerifier{}, time.Minute)
		require.NoError(t, g.Admit(halt("ok:grid_operator"), now))
		o := halt("ok:grid_operator")
		o.Action = models.ActionResumeZone
		o.Signature = "ok:grid_operator"
		// Same signature string is still remembered within retention
		assert.Error(t, g.Admit(o, now.Add(30*time.Second)))
		g.prune(now.Add(2 * time.Minute))
		assert.Empty(t, g.seen)
	})
}
