package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
)

func TestChecker_Check(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Healthy from the third request on
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChecker(time.Second)
	err := c.Check(context.Background(), policy.Health{URL: srv.URL, Retries: 5, Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestChecker_CheckExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker(time.Second)
	err := c.Check(context.Background(), policy.Health{URL: srv.URL, Retries: 2, Interval: time.Millisecond})
	if failure.KindOf(err) != failure.KindUnreachable {
		t.Fatalf("Check() error = %v, want unreachable", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if len(failure.Hints(err)) == 0 {
		t.Error("expected a hint")
	}
}
