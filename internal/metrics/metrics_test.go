package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandledCountsOutcome(t *testing.T) {
	okBefore := testutil.ToFloat64(EventsHandled.WithLabelValues("test", "ok"))
	errBefore := testutil.ToFloat64(EventsHandled.WithLabelValues("test", "error"))

	Handled("test", nil)
	Handled("test", errors.New("boom"))
	Handled("test", nil)

	if got := testutil.ToFloat64(EventsHandled.WithLabelValues("test", "ok")); got != okBefore+2 {
		t.Fatalf("ok=%v want %v", got, okBefore+2)
	}
	if got := testutil.ToFloat64(EventsHandled.WithLabelValues("test", "error")); got != errBefore+1 {
		t.Fatalf("error=%v want %v", got, errBefore+1)
	}
}

func TestServerExposesCollectors(t *testing.T) {
	PayoutRuns.WithLabelValues("ok").Inc()

	srv := NewServer(":0")
	if srv.ReadHeaderTimeout == 0 {
		t.Fatalf("read header timeout not set")
	}
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/metrics", "taskos_payout_runs_total"},
		{"/healthz", `"ok":true`},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			res, err := ts.Client().Get(ts.URL + tc.path)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer res.Body.Close()
			body, _ := io.ReadAll(res.Body)
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status=%d", res.StatusCode)
			}
			if !strings.Contains(string(body), tc.want) {
				t.Fatalf("body missing %q", tc.want)
			}
		})
	}
}
