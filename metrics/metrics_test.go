package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/point-engine/point"
)

func TestRecorder_CountsByCode(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.ObserveOperation(point.OpEarn, point.CodeSuccess, time.Millisecond)
	r.ObserveOperation(point.OpEarn, point.CodeSuccess, time.Millisecond)
	r.ObserveOperation(point.OpUse, point.CodeWalletAmount, time.Millisecond)
	r.ObserveOperation(point.OpUse, point.CodeSystem, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues(point.OpEarn, string(point.CodeSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues(point.OpUse, string(point.CodeWalletAmount))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.systemErrors))
}

func TestRecorder_Expired(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.AddExpired(3)
	r.AddExpired(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.expired))
}

func TestRecorder_Handler(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.ObserveLockWait(2 * time.Millisecond)
	r.ObserveOperation(point.OpCancelUse, point.CodeSuccess, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "point_engine_operations_total")
	assert.Contains(t, body, "point_engine_lock_wait_seconds_count 1")
}
