package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/agent"
	"github.com/JakeFAU/importscout/internal/config"
)

const coffeeAnswer = "```json\n" + `[
  {"companyName":"Bean Traders GmbH","summary":"Green coffee importer","emails":["sales@beantraders.example"],"confidenceScore":88},
  {"companyName":"Roast Collective","summary":"Specialty roaster","phones":["+49 30 1234"],"confidenceScore":71}
]` + "\n```"

type stubAgent struct {
	calls atomic.Int32
	text  string
}

func (s *stubAgent) Generate(_ context.Context, _ agent.Request) (agent.Response, error) {
	s.calls.Add(1)
	return agent.Response{
		Text: s.text,
		Grounding: []agent.GroundingChunk{
			{Web: &agent.WebReference{Title: "Berlin coffee importers", URI: "https://directory.example/coffee"}},
		},
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 0, RequestTimeoutSeconds: 30},
		Agent:  config.AgentConfig{Model: "gemini-2.5-flash", TimeoutSeconds: 5},
		Scout:  config.ScoutConfig{DefaultLimit: 10, MaxLimit: 20},
		Webhook: config.WebhookConfig{
			Source:         "ImportScout App",
			TimeoutSeconds: 5,
		},
		Storage: config.StorageConfig{Backend: config.StorageMemory, Prefix: "responses"},
		Progress: config.ProgressConfig{
			Enabled:    true,
			LogEnabled: true,
			BufferSize: 64,
			Batch:      config.ProgressBatchConfig{MaxEvents: 8, MaxWaitMs: 10},
		},
		Telemetry: config.TelemetryConfig{ServiceName: "importscout", Exporter: "none", SampleRatio: 1},
	}
}

func buildTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	}, opts...)
	app, err := Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func TestBuildScoutSyncAndHistory(t *testing.T) {
	var hits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(hook.Close)

	stub := &stubAgent{text: coffeeAnswer}
	app := buildTestApp(t, testConfig(), WithAgent(stub), WithHTTPClient(hook.Client()))
	h := app.Handler()

	rec := do(t, h, http.MethodPost, "/v1/scout", `{"product":"Coffee","region":"Berlin","limit":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var scout struct {
		RunID string `json:"run_id"`
		Leads []struct {
			CompanyName string `json:"companyName"`
			Category    string `json:"category"`
			Confidence  int    `json:"confidenceScore"`
		} `json:"leads"`
		ArchiveURI string `json:"archive_uri"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scout))
	require.Len(t, scout.Leads, 2)
	require.Equal(t, "Coffee", scout.Leads[0].Category)
	require.Equal(t, 71, scout.Leads[1].Confidence)
	require.True(t, strings.HasPrefix(scout.ArchiveURI, "memory://"), scout.ArchiveURI)
	require.Equal(t, int32(1), stub.calls.Load())
	require.Equal(t, 2, app.Leads().Len())

	rec = do(t, h, http.MethodPut, "/v1/webhook", `{"url":"`+hook.URL+`/crm"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"outcome":"confirmed"`)
	require.Equal(t, int32(1), hits.Load())

	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/v1/runs/"+scout.RunID, "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"status":"success"`)
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/v1/deliveries", "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"outcome":"confirmed"`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBuildWithoutAgentDisablesScouting(t *testing.T) {
	app := buildTestApp(t, testConfig())
	require.Nil(t, app.Pipeline())
	require.NotNil(t, app.Dispatcher())

	rec := do(t, app.Handler(), http.MethodPost, "/v1/scout", `{"product":"Coffee","region":"Berlin"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, app.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildSeedsWebhookFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.URL = "https://hooks.example.com/crm"
	app := buildTestApp(t, cfg)

	url, err := app.Settings().WebhookURL(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://hooks.example.com/crm", url)
}

func TestBuildRejectsInvalidSeedWebhook(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.URL = "not a url"
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "webhook settings")
}

func TestBuildLocalStorageArchives(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Local.BaseDir = t.TempDir()
	app := buildTestApp(t, cfg, WithAgent(&stubAgent{text: coffeeAnswer}))

	rec := do(t, app.Handler(), http.MethodPost, "/v1/scout", `{"product":"Coffee","region":"Berlin"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"archive_uri":"file://`)
}

func TestBuildRequiresConfig(t *testing.T) {
	_, err := Build(context.Background(), nil)
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	app := buildTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
