package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPathLabel(t *testing.T) {
	assert.Equal(t, "root", pathLabel("/"))
	assert.Equal(t, "health", pathLabel("/health"))
	assert.Equal(t, "query_revenue", pathLabel("/query/revenue"))
	assert.Equal(t, "admin_keys", pathLabel("/admin/keys/abc-123"))
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestTotal.WithLabelValues(http.MethodGet, "brew_tea", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew/tea", nil))
	after := testutil.ToFloat64(RequestTotal.WithLabelValues(http.MethodGet, "brew_tea", "418"))
	assert.Equal(t, before+1, after)
}

func TestObserveQuery(t *testing.T) {
	ok := QueryTotal.WithLabelValues("star", "revenue", "ok")
	failed := QueryTotal.WithLabelValues("star", "revenue", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	ObserveQuery("star", "revenue", time.Now(), nil)
	ObserveQuery("star", "revenue", time.Now(), errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestSetSnapshotRows(t *testing.T) {
	SetSnapshotRows(map[string]int{"fact_encounters": 42})
	assert.Equal(t, 42.0, testutil.ToFloat64(SnapshotRows.WithLabelValues("fact_encounters")))
}
