package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)
	observability.ExposeBuildInfo("test")

	start := time.Now()
	observability.ObserveIngestStep("transform", time.Since(start).Seconds())
	observability.IncIngestRun("ready")
	observability.IncIngestRun("UnsupportedCrs")

	observability.AddCacheHits("redis", 3)
	observability.AddCacheMisses("local", 1)
	observability.ObserveCacheOp("mget", nil, 0.002)

	observability.IncJobAttempt("retry")
	observability.IncKafkaConsumerError("decode")
	observability.AddReaped(2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`ingest_step_duration_seconds_bucket{step="transform"`,
		`redis_operation_duration_seconds_count`,
		`cache_results_total{outcome="hit",tier="redis"} `,
		`cache_results_total{outcome="miss",tier="local"} `,
		`jobs_attempts_total{outcome="retry"} `,
		`kafka_consumer_errors_total{kind="decode"} `,
		`reaper_marked_total `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "ingest_runs_total", `outcome="ready"`)
	assertHasMetricLine(t, body, "ingest_runs_total", `outcome="UnsupportedCrs"`)
	assertHasMetricLine(t, body, "geolayers_build_info", `version="test"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}
