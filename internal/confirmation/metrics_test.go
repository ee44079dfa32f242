package confirmation

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.flowCreated()
	m.flowCreated()
	m.flowResponded(true, 2*time.Second)
	m.flowResponded(false, time.Second)
	m.flowExecuted(true)
	m.flowsExpired(3)
	m.flowsExpired(0)

	if got := testutil.ToFloat64(m.created); got != 2 {
		t.Fatalf("created = %v", got)
	}
	if got := testutil.ToFloat64(m.responded.WithLabelValues("confirmed")); got != 1 {
		t.Fatalf("responded{confirmed} = %v", got)
	}
	if got := testutil.ToFloat64(m.executed.WithLabelValues("executed")); got != 1 {
		t.Fatalf("executed{executed} = %v", got)
	}
	if got := testutil.ToFloat64(m.expired); got != 3 {
		t.Fatalf("expired = %v", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.flowCreated()
	m.flowResponded(true, time.Second)
	m.flowExecuted(false)
	m.flowsExpired(1)
}

func TestMustNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	// Both instances must feed the same registered series, not a
	// detached duplicate.
	first.flowCreated()
	second.flowCreated()
	second.flowsExpired(2)

	if got := testutil.ToFloat64(first.created); got != 2 {
		t.Fatalf("created = %v", got)
	}
	if got := testutil.ToFloat64(second.expired); got != 2 {
		t.Fatalf("expired = %v", got)
	}
	if first.created != second.created {
		t.Fatal("re-registration must hand back the registered counter")
	}
}
