package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Trades.WithLabelValues("north").Inc()
	m.MatchedEnergy.WithLabelValues("north").Add(12.5)
	m.OutboxPending.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Trades.WithLabelValues("north")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.MatchedEnergy.WithLabelValues("north")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gridledger_trades_total"])
	assert.True(t, names["gridledger_outbox_pending_events"])

	// A second registration on the same registry must panic
	assert.Panics(t, func() { New(reg) })
}
