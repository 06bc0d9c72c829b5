package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordFrame(true)
	m.RecordUtterance("pause", 3)
	m.RecordUtteranceDropped()
	m.RecordTranscription("transcribe", 0.5, false)
	m.RecordSessionSaved(0.1, true)
	m.RecordHTTPRequest("GET", "/health", "200", 0.001)
}

func TestRecordUtterance(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordUtterance("pause", 4.2)
	m.RecordUtterance("pause", 6.0)
	m.RecordUtterance("forced", 15.0)

	if got := testutil.ToFloat64(m.UtterancesEmitted.WithLabelValues("pause")); got != 2 {
		t.Errorf("Expected 2 pause utterances, got %f", got)
	}
	if got := testutil.ToFloat64(m.UtterancesEmitted.WithLabelValues("forced")); got != 1 {
		t.Errorf("Expected 1 forced utterance, got %f", got)
	}
}

func TestRecordFrame(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordFrame(true)
	m.RecordFrame(false)
	m.RecordFrame(true)

	if got := testutil.ToFloat64(m.FramesProcessed); got != 3 {
		t.Errorf("Expected 3 frames, got %f", got)
	}
	if got := testutil.ToFloat64(m.SilentFrames); got != 2 {
		t.Errorf("Expected 2 silent frames, got %f", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// two instances must not collide
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.RecordSessionSaved(0.2, false)
	if got := testutil.ToFloat64(b.SessionsSaved); got != 0 {
		t.Errorf("Expected independent counters, got %f", got)
	}
	if got := testutil.ToFloat64(a.SessionsSaved); got != 1 {
		t.Errorf("Expected 1 saved session, got %f", got)
	}
}
