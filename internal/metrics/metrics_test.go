package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistryRecordsPerAxis(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveRoundTrip("axis-x", 0.01)
	r.IncRetries("axis-x")
	r.IncTimeouts("axis-y")
	r.SetWarning("axis-x", true)
	r.SetMainState("axis-x", 8)

	require.Equal(t, 1, testutil.CollectAndCount(r.Retries))
	require.InDelta(t, 1.0, testutil.ToFloat64(r.Retries.WithLabelValues("axis-x")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(r.Timeouts.WithLabelValues("axis-y")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(r.Warnings.WithLabelValues("axis-x")), 1e-9)
	require.InDelta(t, 8.0, testutil.ToFloat64(r.MainState.WithLabelValues("axis-x")), 1e-9)
}
