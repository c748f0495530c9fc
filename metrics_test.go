package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsNilAndDisabledAreInert(t *testing.T) {
	var nilSet *Metrics
	nilSet.Inc(MetricLoginSuccess)
	nilSet.Observe(MetricValidateLatency, time.Millisecond)
	require.False(t, nilSet.Enabled())
	require.Zero(t, nilSet.Value(MetricLoginSuccess))
	require.Empty(t, nilSet.Snapshot().Counters)

	off := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	off.Inc(MetricLoginSuccess)
	require.False(t, off.LatencyEnabled())
	require.Zero(t, off.Value(MetricLoginSuccess))
	require.Empty(t, off.Snapshot().Histograms)
}

func TestMetricsIgnoresUnknownIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(metricIDCount)
	m.Inc(metricIDCount + 10)
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	require.Len(t, snap.Counters, int(metricIDCount))
	for id, v := range snap.Counters {
		require.Zerof(t, v, "counter %d", id)
	}
	require.Equal(t, make([]uint64, histBucketCount), snap.Histograms[MetricValidateLatency])
}

func TestMetricsConcurrentCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, each = 16, 2500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := MetricSessionCreated
			if i%2 == 1 {
				id = MetricSessionExpired
			}
			for j := 0; j < each; j++ {
				m.Inc(id)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, uint64(workers/2*each), m.Value(MetricSessionCreated))
	require.Equal(t, uint64(workers/2*each), m.Value(MetricSessionExpired))
}

func TestMetricsLatencyBuckets(t *testing.T) {
	tests := []struct {
		d      time.Duration
		bucket int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{26 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{249 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, tt := range tests {
		require.Equalf(t, tt.bucket, bucketIndex(tt.d), "bucketIndex(%s)", tt.d)
	}

	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, tt := range tests {
		m.Observe(MetricValidateLatency, tt.d)
	}
	require.Equal(t, []uint64{2, 1, 1, 1, 1, 1, 1, 1}, m.Snapshot().Histograms[MetricValidateLatency])
}

func TestMetricsSnapshotIsACopy(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(MetricAPIKeyIssued)
	m.Observe(MetricValidateLatency, time.Millisecond)

	snap := m.Snapshot()
	m.Inc(MetricAPIKeyIssued)
	m.Observe(MetricValidateLatency, time.Millisecond)

	require.Equal(t, uint64(1), snap.Counters[MetricAPIKeyIssued])
	require.Equal(t, uint64(1), snap.Histograms[MetricValidateLatency][0])
	require.Equal(t, uint64(2), m.Value(MetricAPIKeyIssued))
}

func TestEngineMetricsTrackOperations(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) {
		c.Metrics.EnableLatencyHistograms = true
	}))
	h.registerVerified(t, testEmail)

	res, err := h.login(testEmail, testPassword)
	require.NoError(t, err)
	_, err = h.login(testEmail, "Wrong-password1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.engine.AuthenticateSession(context.Background(), res.Token)
	require.NoError(t, err)

	snap := h.engine.MetricsSnapshot()
	require.Equal(t, uint64(1), snap.Counters[MetricRegisterSuccess])
	require.Equal(t, uint64(1), snap.Counters[MetricLoginSuccess])
	require.Equal(t, uint64(1), snap.Counters[MetricLoginFailure])
	require.Equal(t, uint64(1), snap.Counters[MetricSessionCreated])

	var observed uint64
	for _, v := range snap.Histograms[MetricValidateLatency] {
		observed += v
	}
	require.Equal(t, uint64(1), observed)
}
