package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

var (
	errRejected = errors.New("rejected")
	errBroken   = errors.New("broken")
)

func TestObserveOperationOutcomes(t *testing.T) {
	m := Ledger()
	success := testutil.ToFloat64(m.operations.WithLabelValues("addLedger", "success"))
	rejected := testutil.ToFloat64(m.operations.WithLabelValues("addLedger", "rejected"))
	failed := testutil.ToFloat64(m.operations.WithLabelValues("addLedger", "failed"))

	m.ObserveOperation("addLedger", nil, errRejected)
	m.ObserveOperation("addLedger", errRejected, errRejected)
	m.ObserveOperation("addLedger", errBroken, errRejected)

	require.Equal(t, success+1, testutil.ToFloat64(m.operations.WithLabelValues("addLedger", "success")))
	require.Equal(t, rejected+1, testutil.ToFloat64(m.operations.WithLabelValues("addLedger", "rejected")))
	require.Equal(t, failed+1, testutil.ToFloat64(m.operations.WithLabelValues("addLedger", "failed")))

	before := testutil.ToFloat64(m.operations.WithLabelValues("unknown", "success"))
	m.ObserveOperation("", nil)
	require.Equal(t, before+1, testutil.ToFloat64(m.operations.WithLabelValues("unknown", "success")))
}

func TestGaugesTrackState(t *testing.T) {
	m := Ledger()
	m.SetHeight(7)
	m.SetRecords(3)

	var height dto.Metric
	require.NoError(t, m.height.Write(&height))
	require.Equal(t, float64(7), height.GetGauge().GetValue())
	require.Equal(t, float64(3), testutil.ToFloat64(m.records))
}

func TestRollbacksAndAudits(t *testing.T) {
	m := Ledger()
	rollbacks := testutil.ToFloat64(m.rollbacks)
	ok := testutil.ToFloat64(m.audits.WithLabelValues("ok"))
	corrupted := testutil.ToFloat64(m.audits.WithLabelValues("corrupted"))

	m.RecordRollback()
	m.RecordAudit(nil)
	m.RecordAudit(errBroken)

	require.Equal(t, rollbacks+1, testutil.ToFloat64(m.rollbacks))
	require.Equal(t, ok+1, testutil.ToFloat64(m.audits.WithLabelValues("ok")))
	require.Equal(t, corrupted+1, testutil.ToFloat64(m.audits.WithLabelValues("corrupted")))

	var nilMetrics *LedgerMetrics
	require.NotPanics(t, func() {
		nilMetrics.RecordRollback()
		nilMetrics.SetHeight(1)
		nilMetrics.ObserveOperation("x", nil)
	})
}
