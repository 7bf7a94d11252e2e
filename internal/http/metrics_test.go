package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/runs/:run_id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("run_id")})
	})

	for _, path := range []string{"/health", "/api/v1/runs/a", "/api/v1/runs/b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			switch m.Name {
			case "roadmapd.http.requests_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byEndpoint := map[string]int64{}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					byEndpoint[v.AsString()] += dp.Value
				}
				assert.Equal(t, map[string]int64{"/health": 1, "/api/v1/runs/:run_id": 2}, byEndpoint)
			case "roadmapd.http.request_duration_seconds":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var total uint64
				for _, dp := range hist.DataPoints {
					total += dp.Count
				}
				assert.EqualValues(t, 3, total)
			}
		}
	}

	assert.True(t, found["roadmapd.http.requests_total"], "requests counter not found")
	assert.True(t, found["roadmapd.http.request_duration_seconds"], "duration histogram not found")
	assert.True(t, found["roadmapd.http.response_size_bytes"], "response size histogram not found")
}

func TestHTTPMetrics_UnmatchedRouteUsesFixedLabel(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/runs/abc", "/runs/def"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	endpoints := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "roadmapd.http.requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
				endpoints[v.AsString()] += dp.Value
			}
		}
	}
	require.Len(t, endpoints, 1, "raw paths must not become label values: %v", endpoints)
	assert.NotContains(t, endpoints, "/runs/abc")
	assert.NotContains(t, endpoints, "/runs/def")
}
