package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"docfolder-gateway/internal/metrics"
)

// series returns the metrics of family name whose labels include want.
func series(t *testing.T, m *metrics.Metrics, name string, want map[string]string) []*dto.Metric {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var out []*dto.Metric
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			out = append(out, metric)
		}
	}
	return out
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		register   func(e *echo.Echo)
		method     string
		path       string
		wantLabels map[string]string
	}{
		{
			name: "counts request by route prefix",
			register: func(e *echo.Echo) {
				e.GET("/operators", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
			},
			method:     http.MethodGet,
			path:       "/operators",
			wantLabels: map[string]string{"method": "GET", "status_code": "200", "path_prefix": "/operators"},
		},
		{
			name: "HTTPError status is resolved before echo writes it",
			register: func(e *echo.Echo) {
				e.GET("/operators", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "not found") })
			},
			method:     http.MethodGet,
			path:       "/operators",
			wantLabels: map[string]string{"status_code": "404", "path_prefix": "/operators"},
		},
		{
			name: "non-standard method is normalized",
			register: func(e *echo.Echo) {
				e.Any("/operators", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
			},
			method:     "XYZZY",
			path:       "/operators",
			wantLabels: map[string]string{"method": "other", "path_prefix": "/operators"},
		},
		{
			name:       "router not found",
			register:   func(*echo.Echo) {},
			method:     http.MethodGet,
			path:       "/nonexistent",
			wantLabels: map[string]string{"method": "GET", "status_code": "404", "path_prefix": "other"},
		},
		{
			name: "upload rejection under the download prefix",
			register: func(e *echo.Echo) {
				e.PUT("/documents/doc/*", func(c echo.Context) error {
					return c.JSON(http.StatusBadRequest, map[string]string{"message": "bad"})
				})
			},
			method:     http.MethodPut,
			path:       "/documents/doc/42/a.exe",
			wantLabels: map[string]string{"method": "PUT", "status_code": "400", "path_prefix": "/documents/doc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			e := echo.New()
			e.Use(MetricsMiddleware(m, "/metrics"))
			tt.register(e)

			serve(e, tt.method, tt.path)

			got := series(t, m, "docfolder_gateway_http_requests_total", tt.wantLabels)
			if len(got) != 1 {
				t.Fatalf("requests_total series matching %v = %d, want 1", tt.wantLabels, len(got))
			}
			if v := got[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("counter value = %v, want 1", v)
			}

			hist := series(t, m, "docfolder_gateway_http_request_duration_seconds", tt.wantLabels)
			if len(hist) != 1 || hist[0].GetHistogram().GetSampleCount() != 1 {
				t.Errorf("expected one duration sample for %v", tt.wantLabels)
			}
		})
	}
}

func TestMetricsMiddleware_InFlightReturnsToZero(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))

	var during float64
	e.GET("/operators", func(c echo.Context) error {
		during = series(t, m, "docfolder_gateway_http_requests_in_flight", nil)[0].GetGauge().GetValue()
		return c.String(http.StatusOK, "ok")
	})

	serve(e, http.MethodGet, "/operators")

	if during != 1 {
		t.Errorf("in-flight during request = %v, want 1", during)
	}
	if v := series(t, m, "docfolder_gateway_http_requests_in_flight", nil)[0].GetGauge().GetValue(); v != 0 {
		t.Errorf("in-flight after request = %v, want 0", v)
	}
}

func TestMetricsMiddleware_SkipsScrapePath(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/metrics", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	serve(e, http.MethodGet, "/metrics")

	if got := series(t, m, "docfolder_gateway_http_requests_total", nil); len(got) != 0 {
		t.Errorf("scrape requests must not be counted, got %d series", len(got))
	}
}
