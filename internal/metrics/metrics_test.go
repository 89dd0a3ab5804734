package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewMetricsIsSingleton(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	if a != b {
		t.Fatal("NewMetrics() returned distinct instances")
	}

	before := counterValue(t, a.WorkViewsTotal)
	b.WorkViewsTotal.Inc()
	if got := counterValue(t, a.WorkViewsTotal); got != before+1 {
		t.Errorf("WorkViewsTotal = %v, want %v", got, before+1)
	}

	a.MediaUploadTotal.WithLabelValues("video", "ok").Inc()
	if got := counterValue(t, a.MediaUploadTotal.WithLabelValues("video", "ok")); got < 1 {
		t.Errorf("MediaUploadTotal = %v", got)
	}
}
