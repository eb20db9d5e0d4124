package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/lead"
	"github.com/JakeFAU/importscout/internal/metrics"
	"github.com/JakeFAU/importscout/internal/progress"
)

// Outcome is the terminal state of a dispatch call.
type Outcome string

// Dispatch outcomes.
const (
	OutcomeConfirmed             Outcome = "confirmed"
	OutcomeDispatchedUnconfirmed Outcome = "dispatched_unconfirmed"
	OutcomeFailed                Outcome = "failed"
)

// Kind distinguishes batch deliveries from probes.
type Kind string

// Dispatch kinds.
const (
	KindBatch Kind = "batch"
	KindProbe Kind = "probe"
)

const (
	jsonContentType  = "application/json"
	plainContentType = "text/plain;charset=UTF-8"
	maxDrainBytes    = 64 << 10
	maxErrorBody     = 512
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes a Dispatcher.
type Config struct {
	// Source is written into batch envelopes.
	Source string
	// Timeout bounds each tier attempt; zero relies on the caller's context.
	Timeout time.Duration
}

// Result describes one dispatch call.
type Result struct {
	ID         string
	Kind       Kind
	Outcome    Outcome
	// StatusCode is the primary tier's HTTP status, zero when no response
	// arrived. The fallback response is never read.
	StatusCode int
	Duration   time.Duration
	// PrimaryErr is set whenever the primary tier failed.
	PrimaryErr error
	// Err is set when Outcome is Failed.
	Err error
}

var tracer = otel.Tracer("github.com/JakeFAU/importscout/internal/delivery")

// Dispatcher sends envelopes to a webhook. The endpoint is an argument of
// every call and is never cached.
type Dispatcher struct {
	client Doer
	ids    lead.IDGenerator
	clock  lead.Clock
	events progress.Emitter
	cfg    Config
	logger *zap.Logger
}

// NewDispatcher builds a Dispatcher. A nil client uses a default
// *http.Client; events may be nil.
func NewDispatcher(client Doer, ids lead.IDGenerator, clock lead.Clock, events progress.Emitter, cfg Config, logger *zap.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	return &Dispatcher{
		client: client,
		ids:    ids,
		clock:  clock,
		events: events,
		cfg:    cfg,
		logger: logger,
	}
}

// DispatchBatch sends leads to endpoint. user is omitted from the envelope
// when empty. The returned error is non-nil only for ErrNoEndpoint, envelope
// encoding failures and the Failed outcome.
func (d *Dispatcher) DispatchBatch(ctx context.Context, endpoint string, leads []lead.Lead, user string) (Result, error) {
	if leads == nil {
		leads = []lead.Lead{}
	}
	envelope := BatchEnvelope{
		Source:    d.cfg.Source,
		Timestamp: formatTimestamp(d.clock.Now()),
		User:      user,
		Leads:     leads,
	}
	return d.dispatch(ctx, KindBatch, endpoint, envelope, len(leads))
}

// Probe sends a TEST_PING envelope through the same two tiers.
func (d *Dispatcher) Probe(ctx context.Context, endpoint string) (Result, error) {
	envelope := ProbeEnvelope{
		Type:      ProbeType,
		Message:   ProbeMessage,
		Timestamp: formatTimestamp(d.clock.Now()),
	}
	return d.dispatch(ctx, KindProbe, endpoint, envelope, 0)
}

func (d *Dispatcher) dispatch(ctx context.Context, kind Kind, endpoint string, envelope any, leadCount int) (Result, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Result{Kind: kind, Outcome: OutcomeFailed, Err: ErrNoEndpoint}, ErrNoEndpoint
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return Result{Kind: kind, Outcome: OutcomeFailed, Err: err}, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return Result{Kind: kind, Outcome: OutcomeFailed, Err: err}, fmt.Errorf("generate delivery id: %w", err)
	}

	host := metrics.EndpointHost(endpoint)
	ctx, span := tracer.Start(ctx, "delivery.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("delivery.id", id),
		attribute.String("delivery.kind", string(kind)),
		attribute.String("delivery.host", host),
		attribute.Int("delivery.bytes", len(body)),
	)

	start := d.clock.Now()
	res := Result{ID: id, Kind: kind}
	status, primaryErr := d.attemptPrimary(ctx, endpoint, body)
	res.StatusCode = status
	switch {
	case primaryErr == nil:
		res.Outcome = OutcomeConfirmed
	default:
		res.PrimaryErr = fmt.Errorf("%w: %w", ErrPrimaryFailed, primaryErr)
		if fallbackErr := d.attemptFallback(ctx, endpoint, body); fallbackErr != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("%w: %w (primary: %v)", ErrFallbackFailed, fallbackErr, primaryErr)
		} else {
			res.Outcome = OutcomeDispatchedUnconfirmed
		}
	}
	res.Duration = d.clock.Now().Sub(start)
	if res.Duration < 0 {
		res.Duration = 0
	}

	span.SetAttributes(attribute.String("delivery.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	d.record(res, host, leadCount)
	if res.Outcome == OutcomeFailed {
		return res, res.Err
	}
	return res, nil
}

// attemptPrimary POSTs JSON and requires a 2xx answer. The body is drained up
// to a bound so the connection can be reused.
func (d *Dispatcher) attemptPrimary(ctx context.Context, endpoint string, body []byte) (int, error) {
	ctx, cancel := d.attemptContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", redact(err))
	}
	req.Header.Set("Content-Type", jsonContentType)
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, redact(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, fmt.Errorf("webhook rejected request: status=%d body=%s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.StatusCode, nil
}

// attemptFallback resends the same bytes as text/plain. The response is
// closed without being read.
func (d *Dispatcher) attemptFallback(ctx context.Context, endpoint string, body []byte) error {
	ctx, cancel := d.attemptContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", redact(err))
	}
	req.Header.Set("Content-Type", plainContentType)
	resp, err := d.client.Do(req)
	if err != nil {
		return redact(err)
	}
	_ = resp.Body.Close()
	return nil
}

func (d *Dispatcher) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, d.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (d *Dispatcher) record(res Result, host string, leadCount int) {
	metrics.ObserveDelivery(string(res.Kind), string(res.Outcome))

	fields := []zap.Field{
		zap.String("delivery_id", res.ID),
		zap.String("kind", string(res.Kind)),
		zap.String("endpoint_host", host),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("leads", leadCount),
		zap.Duration("dur", res.Duration),
	}
	switch res.Outcome {
	case OutcomeConfirmed:
		d.logger.Info("webhook delivery confirmed", fields...)
	case OutcomeDispatchedUnconfirmed:
		d.logger.Warn("webhook delivery unconfirmed", append(fields, zap.Error(res.PrimaryErr))...)
	default:
		d.logger.Error("webhook delivery failed", append(fields, zap.Error(res.Err))...)
	}

	if d.events == nil {
		return
	}
	evt := progress.Event{
		ID:      res.ID,
		TS:      d.clock.Now(),
		Stage:   progress.StageDelivery,
		Kind:    string(res.Kind),
		Outcome: string(res.Outcome),
		Host:    host,
		Leads:   leadCount,
		Dur:     res.Duration,
	}
	switch {
	case res.Err != nil:
		evt.Note = res.Err.Error()
	case res.PrimaryErr != nil:
		evt.Note = res.PrimaryErr.Error()
	}
	d.events.Emit(evt)
}

// redact strips the URL from *url.Error. Only endpoint hosts are logged.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", strings.ToLower(uerr.Op), uerr.Err)
	}
	return err
}
