package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersCountAndServe(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	StartMetrics(logger, true)

	before := testutil.ToFloat64(Hypotheses.WithLabelValues("ASR", "forwarded"))
	RecordHypothesis("ASR", "forwarded")
	assert.Equal(t, before+1, testutil.ToFloat64(Hypotheses.WithLabelValues("ASR", "forwarded")))

	SetCallState("connected", []string{"idle", "connected"})
	assert.Equal(t, 1.0, testutil.ToFloat64(CallState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(CallState.WithLabelValues("idle")))

	mux := http.NewServeMux()
	RegisterHandler(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "translate_hub_hypotheses_total")
}

func TestDisabledHelpersAreNoops(t *testing.T) {
	EnableMetrics(false)
	defer EnableMetrics(true)

	before := testutil.ToFloat64(StageFaults.WithLabelValues("mt"))
	RecordStageFault("mt")
	assert.Equal(t, before, testutil.ToFloat64(StageFaults.WithLabelValues("mt")))
	ObserveBackendLatency("mt", "mock")()
}
