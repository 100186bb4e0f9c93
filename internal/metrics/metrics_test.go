package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(FilesParsed.WithLabelValues("ok"))
	FilesParsed.WithLabelValues("ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FilesParsed.WithLabelValues("ok")))

	before = testutil.ToFloat64(Previews.WithLabelValues("module", "no_preview"))
	Previews.WithLabelValues("module", "no_preview").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Previews.WithLabelValues("module", "no_preview")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ContentCache.WithLabelValues("hit").Inc()
	AnalysisDuration.Observe(0.5)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "importgraph_content_cache_total")
	assert.Contains(t, string(body), "importgraph_analysis_duration_seconds_bucket")
}
