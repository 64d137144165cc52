package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveInvocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.ObserveInvocation(OutcomeSuccess, 10*time.Millisecond)
	m.ObserveInvocation(OutcomeSuccess, 20*time.Millisecond)
	m.ObserveInvocation(OutcomeHandlerError, time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Invocations[OutcomeSuccess])
	assert.Equal(t, uint64(1), snap.Invocations[OutcomeHandlerError])
}

func TestQueueDepthAndSubmissions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.SetQueueDepth(3)
	m.RecordSubmission(OutcomeSuccess)
	m.RecordSubmission(OutcomeShutdown)

	snap := m.Snapshot()
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Equal(t, uint64(1), snap.Submissions[OutcomeSuccess])
	assert.Equal(t, uint64(1), snap.Submissions[OutcomeShutdown])
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New(reg).Register())
	// A second set of collectors with the same names is tolerated.
	require.NoError(t, New(reg).Register())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Register())
	m.ObserveInvocation(OutcomeSuccess, time.Second)
	m.RecordSubmission(OutcomeFailure)
	m.SetQueueDepth(1)
	assert.Empty(t, m.Snapshot().Invocations)
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	m.ObserveInvocation(OutcomeSuccess, time.Millisecond)
	m.SetQueueDepth(2)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `funcflow_invocations_total{outcome="success"} 1`)
	assert.Contains(t, string(body), "funcflow_local_queue_depth 2")
	assert.Contains(t, string(body), "funcflow_invocation_duration_seconds_count 1")
}
