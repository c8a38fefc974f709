package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsAreRegistered(t *testing.T) {
	Withdrawals.WithLabelValues("settled").Inc()
	ReconciledBatches.WithLabelValues("reverted").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	seen := make(map[string]bool, len(families))
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{
		"settlement_withdrawals_total",
		"settlement_reconcile_batches_total",
	} {
		if !seen[name] {
			t.Fatalf("metric %s not registered", name)
		}
	}
}

func TestResult(t *testing.T) {
	if Result(nil) != "ok" || Result(errors.New("x")) != "error" {
		t.Fatalf("unexpected result labels")
	}
}
