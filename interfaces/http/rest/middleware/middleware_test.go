package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	pkgerrors "lessonmap-backend/pkg/errors"
	"lessonmap-backend/pkg/observability"
)

func TestRequireActor(t *testing.T) {
	var seen string
	h := RequireActor(pkgerrors.NewErrorHandler(zap.NewNop(), false))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = ActorFrom(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	tests := []struct {
		name   string
		header string
		status int
		actor  string
	}{
		{"present", "educator-1", http.StatusNoContent, "educator-1"},
		{"padded", "  educator-2 ", http.StatusNoContent, "educator-2"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"blank", "   ", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.actor, seen)
		})
	}
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	collector := observability.NewCollector("mw_test")
	r := chi.NewRouter()
	r.Use(Metrics(collector))
	r.Get("/graphs/{graphID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphs/"+id, nil))
	}

	assert.Equal(t, 1, testutil.CollectAndCount(collector.Registry(), "mw_test_http_requests_total"),
		"both requests share one route series")
}
