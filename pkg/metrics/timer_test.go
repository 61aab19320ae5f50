package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDurationGrows(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()

	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.Greater(t, second, first)
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_tick_seconds",
		Help:    "test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(h)

	require.Equal(t, 1, testutil.CollectAndCount(h), "one sample recorded")
}

func TestTimerObserveDurationVec(t *testing.T) {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_tick_vec_seconds",
		Help:    "test histogram vec",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	timer := NewTimer()
	timer.ObserveDurationVec(hv, "scan")

	assert.Equal(t, 1, testutil.CollectAndCount(hv, "test_tick_vec_seconds"))
}
