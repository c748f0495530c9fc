package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{snapshot: authcore.MetricsSnapshot{}})
	require.Empty(t, exp.Render())

	var nilExp *Exporter
	require.Empty(t, nilExp.Render())
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:     7,
				authcore.MetricLockoutTriggered: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	require.Contains(t, out, "authcore_login_success_total 7\n")
	require.Contains(t, out, "authcore_lockout_triggered_total 1\n")
	require.Contains(t, out, "authcore_api_key_issued_total 0\n")
	require.Contains(t, out, `authcore_validate_latency_seconds_bucket{le="0.005"} 1`)
	require.Contains(t, out, `authcore_validate_latency_seconds_bucket{le="+Inf"} 36`)
	require.Contains(t, out, "authcore_validate_latency_seconds_count 36\n")
	require.Contains(t, out, "authcore_audit_dropped_total 2\n")
	require.Contains(t, out, "# TYPE authcore_validate_latency_seconds histogram\n")
}

func TestRenderSkipsHistogramWithoutLatency(t *testing.T) {
	exp := New(fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters: map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
	}})
	require.NotContains(t, exp.Render(), "validate_latency")
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	engine, err := authcore.New().WithMetricsEnabled(true).Build()
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Login(context.Background(), authcore.LoginRequest{Email: "nobody@example.com", Password: "Password123!"})
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	rec := httptest.NewRecorder()
	New(engine).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	require.Contains(t, rec.Body.String(), "authcore_login_failure_total 1\n")
}
