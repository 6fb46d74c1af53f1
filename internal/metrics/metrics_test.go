package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	Init()
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/sessions/{userID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	before := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", "/sessions/{userID}", "418"))
	for _, u := range []string{"alice", "bob"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+u, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("expected 418, got %d", rec.Code)
		}
	}
	after := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", "/sessions/{userID}", "418"))
	if after-before != 2 {
		t.Errorf("expected 2 requests counted under the route pattern, got %v", after-before)
	}

	AnswersSaved.WithLabelValues("quality", "new").Inc()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "rater_answers_saved_total") {
		t.Error("expected answers counter in /metrics output")
	}
}
