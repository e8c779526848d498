package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test", Revision: "r", Branch: "b", BuildDate: "now"}})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)

	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `app_build_info{`) {
		t.Fatalf("expected app_build_info in payload; got:\n%s", body)
	}
}

func TestDGGSCollectors_ExposedAfterUse(t *testing.T) {
	p := Init(Config{})

	before := testutil.ToFloat64(setFuncCache.WithLabelValues("children", CacheHit))
	ObserveSetFuncCache("children", CacheHit)
	if got := testutil.ToFloat64(setFuncCache.WithLabelValues("children", CacheHit)); got != before+1 {
		t.Fatalf("cache hit counter=%v want %v", got, before+1)
	}

	ObserveFallbackScan("neighbors", 12)
	IncIterationLimitExceeded("neighbors")
	ObserveRewrite("intersects", RewriteApplied)
	ObserveUnionRetry()
	ObserveStoreOp("zrangebylex", nil, 0.001)
	ObserveStoreOp("smembers", errors.New("boom"), 0.002)

	body := scrape(t, p)
	for _, want := range []string{
		`dggs_setfunc_cache_total{outcome="hit",relation="children"}`,
		`dggs_setfunc_fallback_scan_zones_bucket{relation="neighbors"`,
		`dggs_setfunc_iteration_limit_exceeded_total{relation="neighbors"}`,
		`dggs_filter_rewrites_total{outcome="applied",rule="intersects"}`,
		`dggs_geometry_union_retries_total`,
		`cache_op_total{op="smembers",result="error"}`,
		`redis_operation_duration_seconds_bucket{op="zrangebylex"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in payload; got:\n%s", want, body)
		}
	}
}
