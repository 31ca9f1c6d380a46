package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {

	m := New()
	m.ObserveRequest("receipt", 200, 120*time.Millisecond)
	m.ObserveRequest("receipt", 200, 80*time.Millisecond)
	m.Submission("acknowledged")
	m.SetJobs("queued", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("receipt", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("acknowledged")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.jobs.WithLabelValues("queued")))
}

func TestMetrics_Nil(t *testing.T) {

	var m *Metrics
	assert.NotPanics(t, func() {
		m.Attempt()
		m.TokenFetch(false)
		m.ZReport("sent")
		_ = m.Handler()
	})
}
