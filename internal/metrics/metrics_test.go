package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEndpointHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"webhook with path", "https://hooks.example.com/webhook/abc?token=1", "hooks.example.com"},
		{"mixed case", "https://N8N.Example.com/path", "n8n.example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "localhost:5678", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EndpointHost(tc.input); got != tc.expected {
				t.Errorf("EndpointHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveIngestionAndDelivery(t *testing.T) {
	Init()
	Init()

	beforeLeads := testutil.ToFloat64(leadsTotal)
	beforeRuns := testutil.ToFloat64(ingestionsTotal.WithLabelValues("success"))
	ObserveIngestion("success", 3, 2*time.Second)
	if got := testutil.ToFloat64(leadsTotal) - beforeLeads; got != 3 {
		t.Errorf("expected 3 leads recorded, got %f", got)
	}
	if got := testutil.ToFloat64(ingestionsTotal.WithLabelValues("success")) - beforeRuns; got != 1 {
		t.Errorf("expected one successful run recorded, got %f", got)
	}

	beforeDelivery := testutil.ToFloat64(deliveriesTotal.WithLabelValues("probe", "confirmed"))
	ObserveDelivery("probe", "confirmed")
	if got := testutil.ToFloat64(deliveriesTotal.WithLabelValues("probe", "confirmed")) - beforeDelivery; got != 1 {
		t.Errorf("expected one delivery recorded, got %f", got)
	}
}

// Fuzz test for EndpointHost.
func FuzzEndpointHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://hooks.zapier.com/x", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if EndpointHost(orig) == "" {
			t.Errorf("EndpointHost(%q) returned an empty string", orig)
		}
	})
}
