package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestStreamMetrics_recordProcessedIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStreamMetrics(reg)

	m.RecordProcessed(1, "order", "create")
	m.RecordProcessed(1, "order", "create")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "clstr_stream_records_processed_total" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 1)
	require.Equal(t, float64(2), found.Metric[0].GetCounter().GetValue())
}

func TestStreamMetrics_healthGaugeReflectsLastValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStreamMetrics(reg)

	m.Health(1, true)
	m.Health(1, false)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "clstr_stream_health" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Equal(t, float64(0), found.Metric[0].GetGauge().GetValue())
}

func TestStreamMetrics_recoveryDurationObservesOnCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStreamMetrics(reg)

	timer := m.RecoveryDuration(1)
	timer.ObserveDuration()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "clstr_stream_recovery_duration_seconds" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Equal(t, uint64(1), found.Metric[0].GetHistogram().GetSampleCount())
}
