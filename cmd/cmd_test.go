package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/api"
	"github.com/JakeFAU/importscout/internal/config"
	"github.com/JakeFAU/importscout/internal/delivery"
	"github.com/JakeFAU/importscout/internal/ingest"
	"github.com/JakeFAU/importscout/internal/lead"
)

type fakeScouter struct {
	query lead.Query
	leads []lead.Lead
	err   error
}

func (f *fakeScouter) Run(_ context.Context, q lead.Query, onState ingest.ProgressFunc) (ingest.Result, error) {
	f.query = q
	if onState != nil {
		onState(ingest.StateRequesting)
		onState(ingest.StateComplete)
	}
	return ingest.Result{RunID: "run-1", Leads: f.leads}, f.err
}

type fakeDeliverer struct {
	endpoint string
	leads    []lead.Lead
	user     string
	probed   bool
	result   delivery.Result
	err      error
}

func (f *fakeDeliverer) DispatchBatch(_ context.Context, endpoint string, leads []lead.Lead, user string) (delivery.Result, error) {
	f.endpoint, f.leads, f.user = endpoint, leads, user
	return f.result, f.err
}

func (f *fakeDeliverer) Probe(_ context.Context, endpoint string) (delivery.Result, error) {
	f.endpoint, f.probed = endpoint, true
	return f.result, f.err
}

type fakeApp struct {
	scouter   api.Scouter
	deliverer api.Deliverer
	ran       bool
	closed    int
}

func (f *fakeApp) Run(context.Context) error { f.ran = true; return nil }
func (f *fakeApp) Close(context.Context) error { f.closed++; return nil }
func (f *fakeApp) Scouter() api.Scouter { return f.scouter }
func (f *fakeApp) Deliverer() api.Deliverer { return f.deliverer }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func cliConfig() config.Config {
	return config.Config{
		Agent:   config.AgentConfig{Model: "gemini-2.5-flash"},
		Scout:   config.ScoutConfig{DefaultLimit: 10, MaxLimit: 20},
		Webhook: config.WebhookConfig{URL: "https://hooks.example.com/crm", User: "ops@example.com"},
	}
}

// execute runs the root command with stubbed config and app factories. The
// stubs replace package variables, so these tests do not run in parallel.
func execute(t *testing.T, app *fakeApp, args ...string) (string, string, error) {
	t.Helper()
	origApp, origLoad := newApp, loadConfig
	t.Cleanup(func() { newApp, loadConfig = origApp, origLoad })

	built := 0
	newApp = func(context.Context, *config.Config) (App, error) {
		built++
		return app, nil
	}
	loadConfig = func(string) (config.Config, error) { return cliConfig(), nil }

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if app == nil {
		require.Zero(t, built)
	}
	return stdout.String(), stderr.String(), err
}

func TestServeRunsAndClosesApp(t *testing.T) {
	app := &fakeApp{}
	_, _, err := execute(t, app, "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.Equal(t, 1, app.closed)
}

func TestScoutPrintsLeadsAndReportsStates(t *testing.T) {
	scouter := &fakeScouter{leads: []lead.Lead{{ID: "a", CompanyName: "Bean Traders GmbH"}}}
	app := &fakeApp{scouter: scouter}

	stdout, stderr, err := execute(t, app, "scout", "--product", " Coffee ", "--region", "Berlin")
	require.NoError(t, err)
	require.Equal(t, lead.Query{Product: "Coffee", Region: "Berlin", Limit: 10}, scouter.query)
	require.Contains(t, stderr, "requesting...")
	require.Contains(t, stderr, "complete...")

	var leads []lead.Lead
	require.NoError(t, json.Unmarshal([]byte(stdout), &leads))
	require.Len(t, leads, 1)
	require.Equal(t, "Bean Traders GmbH", leads[0].CompanyName)
	require.Equal(t, 1, app.closed)
}

func TestScoutEmptyResultPrintsEmptyArray(t *testing.T) {
	app := &fakeApp{scouter: &fakeScouter{}}
	stdout, _, err := execute(t, app, "scout", "--product", "Tea", "--region", "Lyon", "--limit", "3")
	require.NoError(t, err)
	require.JSONEq(t, "[]", stdout)
}

func TestScoutDeliversWhenWebhookGiven(t *testing.T) {
	scouter := &fakeScouter{leads: []lead.Lead{{ID: "a"}, {ID: "b"}}}
	deliverer := &fakeDeliverer{result: delivery.Result{
		Kind:       delivery.KindBatch,
		Outcome:    delivery.OutcomeConfirmed,
		StatusCode: 200,
	}}
	app := &fakeApp{scouter: scouter, deliverer: deliverer}

	_, stderr, err := execute(t, app, "scout", "--product", "Coffee", "--region", "Berlin",
		"--webhook", "https://crm.example.com/in")
	require.NoError(t, err)
	require.Equal(t, "https://crm.example.com/in", deliverer.endpoint)
	require.Len(t, deliverer.leads, 2)
	require.Equal(t, "ops@example.com", deliverer.user)
	require.Contains(t, stderr, "confirmed (HTTP 200)")
}

func TestScoutDeliveryFailure(t *testing.T) {
	deliverer := &fakeDeliverer{result: delivery.Result{
		Kind:    delivery.KindBatch,
		Outcome: delivery.OutcomeFailed,
		Err:     errors.New("connection refused"),
	}}
	app := &fakeApp{scouter: &fakeScouter{leads: []lead.Lead{{ID: "a"}}}, deliverer: deliverer}

	_, _, err := execute(t, app, "scout", "--product", "Coffee", "--region", "Berlin",
		"--webhook", "https://crm.example.com/in", "--user", "me")
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, "me", deliverer.user)
}

func TestScoutValidation(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing product", []string{"scout", "--region", "Berlin"}, "--product is required"},
		{"missing region", []string{"scout", "--product", "Coffee"}, "--region is required"},
		{"limit too high", []string{"scout", "--product", "Coffee", "--region", "Berlin", "--limit", "21"}, "between 1 and 20"},
		{"negative limit", []string{"scout", "--product", "Coffee", "--region", "Berlin", "--limit", "-1"}, "between 1 and 20"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := execute(t, &fakeApp{scouter: &fakeScouter{}}, tc.args...)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestScoutWithoutAgent(t *testing.T) {
	_, _, err := execute(t, &fakeApp{}, "scout", "--product", "Coffee", "--region", "Berlin")
	require.ErrorContains(t, err, "search agent not configured")
}

func TestScoutRunError(t *testing.T) {
	app := &fakeApp{scouter: &fakeScouter{err: ingest.ErrInvalidFormat}}
	_, _, err := execute(t, app, "scout", "--product", "Coffee", "--region", "Berlin")
	require.ErrorIs(t, err, ingest.ErrInvalidFormat)
	require.ErrorContains(t, err, "run-1")
}

func TestPingDefaultsToConfiguredWebhook(t *testing.T) {
	deliverer := &fakeDeliverer{result: delivery.Result{
		Kind:       delivery.KindProbe,
		Outcome:    delivery.OutcomeDispatchedUnconfirmed,
		PrimaryErr: errors.New("cors"),
	}}
	stdout, _, err := execute(t, &fakeApp{deliverer: deliverer}, "ping")
	require.NoError(t, err)
	require.True(t, deliverer.probed)
	require.Equal(t, "https://hooks.example.com/crm", deliverer.endpoint)
	require.Contains(t, stdout, "dispatched_unconfirmed")
}

func TestScoutUnconfirmedLabelsPrimaryStatus(t *testing.T) {
	deliverer := &fakeDeliverer{result: delivery.Result{
		Kind:       delivery.KindBatch,
		Outcome:    delivery.OutcomeDispatchedUnconfirmed,
		StatusCode: 500,
		PrimaryErr: errors.New("webhook rejected request: status=500"),
	}}
	app := &fakeApp{scouter: &fakeScouter{leads: []lead.Lead{{ID: "a"}}}, deliverer: deliverer}

	_, stderr, err := execute(t, app, "scout", "--product", "Coffee", "--region", "Berlin",
		"--webhook", "https://crm.example.com/in")
	require.NoError(t, err)
	require.Contains(t, stderr, "dispatched_unconfirmed (primary HTTP 500)")
	require.NotContains(t, stderr, "unconfirmed (HTTP")
}

func TestPingPropagatesErrors(t *testing.T) {
	deliverer := &fakeDeliverer{err: errors.New("encode failed")}
	_, _, err := execute(t, &fakeApp{deliverer: deliverer}, "ping", "--webhook", "https://x.example.com")
	require.ErrorContains(t, err, "encode failed")
}

func TestWorkflowSkipsAppConstruction(t *testing.T) {
	stdout, _, err := execute(t, nil, "workflow", "--product", "Coffee", "--region", "Berlin", "--limit", "5")
	require.NoError(t, err)

	var doc struct {
		Name  string `json:"name"`
		Nodes []struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	require.Equal(t, "Importer Scout: Coffee in Berlin", doc.Name)
	require.Len(t, doc.Nodes, 3)
	require.Equal(t, "https://hooks.example.com/crm", doc.Nodes[2].Parameters["path"])
}

func TestConfigLoadFailure(t *testing.T) {
	origLoad := loadConfig
	t.Cleanup(func() { loadConfig = origLoad })
	loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("bad yaml") }

	root := newRootCmd()
	root.SetArgs([]string{"--config", "broken.yaml", "workflow"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "bad yaml")
}
