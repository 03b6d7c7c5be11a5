package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWith_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")

	m.ClaimsTotal.WithLabelValues("OK").Inc()
	m.ClaimsTotal.WithLabelValues("OK").Inc()
	m.ClaimsTotal.WithLabelValues("WRONG_RECIPIENT").Inc()

	if got := testutil.ToFloat64(m.ClaimsTotal.WithLabelValues("OK")); got != 2 {
		t.Errorf("OK claims: got %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.ClaimsTotal); n != 2 {
		t.Errorf("label series: got %d, want 2", n)
	}
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.TokensDisbursed)
	RecordDisbursement(1500, 10, 1700000000)
	if got := testutil.ToFloat64(DefaultMetrics.TokensDisbursed) - before; got != 1500 {
		t.Errorf("TokensDisbursed delta: got %v, want 1500", got)
	}
	if got := testutil.ToFloat64(DefaultMetrics.LastSuccessfulDisbursement); got != 1700000000 {
		t.Errorf("LastSuccessfulDisbursement: got %v", got)
	}

	errsBefore := testutil.ToFloat64(DefaultMetrics.RPCCallErrors.WithLabelValues("getTransaction"))
	RecordRPCLatency("getTransaction", 0.1, errors.New("boom"))
	RecordRPCLatency("getTransaction", 0.1, nil)
	if got := testutil.ToFloat64(DefaultMetrics.RPCCallErrors.WithLabelValues("getTransaction")) - errsBefore; got != 1 {
		t.Errorf("RPC errors delta: got %v, want 1", got)
	}

	done := ClaimStarted()
	if got := testutil.ToFloat64(DefaultMetrics.InFlightClaims); got < 1 {
		t.Errorf("InFlightClaims: got %v, want >= 1", got)
	}
	done()
}
