package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func latencySamples(t *testing.T, method string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "goldchain_rpc_request_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelValue(metric, "method") == method {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestRPCObserve(t *testing.T) {
	m := RPC()
	successes := testutil.ToFloat64(m.requests.WithLabelValues("ledger_head", "success"))
	errs := testutil.ToFloat64(m.errors.WithLabelValues("ledger_addLedger", "409"))
	samples := latencySamples(t, "ledger_head")

	m.Observe("ledger_head", 200, 5*time.Millisecond)
	m.Observe("ledger_addLedger", 409, time.Millisecond)

	require.Equal(t, successes+1, testutil.ToFloat64(m.requests.WithLabelValues("ledger_head", "success")))
	require.Equal(t, errs+1, testutil.ToFloat64(m.errors.WithLabelValues("ledger_addLedger", "409")))
	require.Equal(t, samples+1, latencySamples(t, "ledger_head"))
}

func TestRejectionCounters(t *testing.T) {
	m := RPC()
	throttles := testutil.ToFloat64(m.throttles.WithLabelValues("unspecified"))
	replays := testutil.ToFloat64(m.auth.WithLabelValues("nonce_replayed"))

	m.RecordThrottle("")
	m.RecordAuthRejection("nonce_replayed")

	require.Equal(t, throttles+1, testutil.ToFloat64(m.throttles.WithLabelValues("unspecified")))
	require.Equal(t, replays+1, testutil.ToFloat64(m.auth.WithLabelValues("nonce_replayed")))
}

func TestEventCounters(t *testing.T) {
	m := Events()
	published := testutil.ToFloat64(m.published.WithLabelValues("ledger.recorded"))
	dropped := testutil.ToFloat64(m.dropped.WithLabelValues("unknown"))

	m.RecordPublished(" ledger.recorded ")
	m.RecordDropped("")

	require.Equal(t, published+1, testutil.ToFloat64(m.published.WithLabelValues("ledger.recorded")))
	require.Equal(t, dropped+1, testutil.ToFloat64(m.dropped.WithLabelValues("unknown")))
}
