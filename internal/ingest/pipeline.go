package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/agent"
	"github.com/JakeFAU/importscout/internal/lead"
	"github.com/JakeFAU/importscout/internal/metrics"
	"github.com/JakeFAU/importscout/internal/progress"
)

// State is a step of the ingestion state machine.
type State string

// Pipeline states in the order a successful run visits them.
const (
	StateIdle        State = "idle"
	StateBuilding    State = "building"
	StateRequesting  State = "requesting"
	StateParsing     State = "parsing"
	StateNormalizing State = "normalizing"
	StateComplete    State = "complete"
	StateError       State = "error"
)

// ProgressFunc receives every state the pipeline enters. It is called
// synchronously from Run and must not block.
type ProgressFunc func(State)

// Config tunes a Pipeline.
type Config struct {
	// AgentTimeout bounds the agent call; zero leaves only the caller's deadline.
	AgentTimeout time.Duration
	// ArchivePrefix is the blob path prefix for raw agent responses.
	ArchivePrefix string
	// Topic receives completion notifications.
	Topic string
}

// Result is the output of a successful run. RunID is also set on failure.
type Result struct {
	RunID      string
	Leads      []lead.Lead
	ArchiveURI string
}

// Notification is published after each successful run.
type Notification struct {
	RunID      string    `json:"run_id"`
	Product    string    `json:"product"`
	Region     string    `json:"region"`
	LeadCount  int       `json:"lead_count"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

var tracer = otel.Tracer("github.com/JakeFAU/importscout/internal/ingest")

// Pipeline runs query → prompt → agent → parse → attribute → normalize.
// Separate Run calls are independent and may execute concurrently.
type Pipeline struct {
	agent      agent.Agent
	normalizer *Normalizer
	blobs      lead.BlobStore
	hasher     lead.Hasher
	publisher  lead.Publisher
	events     progress.Emitter
	ids        lead.IDGenerator
	clock      lead.Clock
	cfg        Config
	logger     *zap.Logger
}

// NewPipeline wires the pipeline. blobs, hasher, publisher and events are
// optional; archiving, notification and progress reporting are skipped when nil.
func NewPipeline(
	ag agent.Agent,
	blobs lead.BlobStore,
	hasher lead.Hasher,
	publisher lead.Publisher,
	events progress.Emitter,
	ids lead.IDGenerator,
	clock lead.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "responses"
	}
	return &Pipeline{
		agent:      ag,
		normalizer: NewNormalizer(ids, clock),
		blobs:      blobs,
		hasher:     hasher,
		publisher:  publisher,
		events:     events,
		ids:        ids,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes one ingestion run. It either returns every lead of the batch
// or an error wrapping ErrAgentUnavailable or ErrInvalidFormat; there is no
// partial output.
func (p *Pipeline) Run(ctx context.Context, q lead.Query, onState ProgressFunc) (Result, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("query.product", q.Product),
		attribute.String("query.region", q.Region),
		attribute.Int("query.limit", q.Limit),
	))
	defer span.End()

	r := &run{
		p:       p,
		id:      runID,
		query:   q,
		onState: onState,
		started: p.clock.Now(),
		logger:  p.logger.With(zap.String("run_id", runID)),
	}
	p.emit(progress.Event{
		ID:      runID,
		TS:      r.started,
		Stage:   progress.StageRunStart,
		Product: q.Product,
		Region:  q.Region,
		Limit:   q.Limit,
	})

	leads, err := r.execute(ctx)
	dur := p.clock.Now().Sub(r.started)
	if err != nil {
		r.transition(StateError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveIngestion("error", 0, dur)
		p.emit(progress.Event{
			ID:         runID,
			Stage:      progress.StageRunError,
			ArchiveURI: r.archiveURI,
			Dur:        nonNegative(dur),
			Note:       err.Error(),
		})
		r.logger.Warn("ingestion run failed", zap.Error(err), zap.Duration("dur", dur))
		return Result{RunID: runID}, err
	}

	r.transition(StateComplete)
	span.SetAttributes(attribute.Int("leads", len(leads)))
	metrics.ObserveIngestion("success", len(leads), dur)
	p.emit(progress.Event{
		ID:         runID,
		Stage:      progress.StageRunDone,
		Leads:      len(leads),
		ArchiveURI: r.archiveURI,
		Dur:        nonNegative(dur),
	})
	p.notify(ctx, r, len(leads))
	r.logger.Info("ingestion run complete", zap.Int("leads", len(leads)), zap.Duration("dur", dur))
	return Result{RunID: runID, Leads: leads, ArchiveURI: r.archiveURI}, nil
}

// run holds the per-invocation state of Pipeline.Run.
type run struct {
	p          *Pipeline
	id         string
	query      lead.Query
	onState    ProgressFunc
	started    time.Time
	archiveURI string
	logger     *zap.Logger
}

func (r *run) execute(ctx context.Context) ([]lead.Lead, error) {
	r.transition(StateBuilding)
	prompt := agent.BuildPrompt(r.query.Product, r.query.Region, r.query.Limit)

	r.transition(StateRequesting)
	resp, err := r.request(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}
	r.archive(ctx, resp.Text)

	r.transition(StateParsing)
	text := resp.Text
	if strings.TrimSpace(text) == "" {
		r.logger.Debug("agent returned empty text, treating as empty array")
		text = "[]"
	}
	payload := Parse(text)
	if !payload.OK {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrInvalidFormat)
	}
	sources := Attribute(resp.Grounding)

	r.transition(StateNormalizing)
	_, span := tracer.Start(ctx, "ingest.normalize")
	defer span.End()
	leads, err := r.p.normalizer.Normalize(payload.Value, r.query, sources)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("leads", len(leads)), attribute.Int("sources", len(sources)))
	return leads, nil
}

func (r *run) request(ctx context.Context, prompt string) (agent.Response, error) {
	ctx, span := tracer.Start(ctx, "agent.generate")
	defer span.End()
	if r.p.cfg.AgentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.p.cfg.AgentTimeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := r.p.agent.Generate(ctx, agent.Request{Prompt: prompt})
	if err != nil {
		metrics.ObserveAgentCall("error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return agent.Response{}, err
	}
	metrics.ObserveAgentCall("success", time.Since(start))
	span.SetAttributes(
		attribute.Int("response.bytes", len(resp.Text)),
		attribute.Int("response.grounding_chunks", len(resp.Grounding)),
	)
	return resp, nil
}

func (r *run) transition(state State) {
	if r.onState != nil {
		r.onState(state)
	}
	r.p.emit(progress.Event{ID: r.id, Stage: progress.StageRunState, State: string(state)})
	r.logger.Debug("ingestion state", zap.String("state", string(state)))
}

// archive stores the raw agent text. Failures are logged and never fail the run.
func (r *run) archive(ctx context.Context, text string) {
	if r.p.blobs == nil || r.p.hasher == nil {
		return
	}
	data := []byte(text)
	digest, err := r.p.hasher.Hash(data)
	if err != nil {
		r.logger.Warn("hash agent response failed", zap.Error(err))
		return
	}
	if len(digest) > 12 {
		digest = digest[:12]
	}
	path := fmt.Sprintf("%s/%s/%s-%s.txt",
		strings.TrimSuffix(r.p.cfg.ArchivePrefix, "/"),
		r.started.UTC().Format("2006/01/02"),
		r.id,
		digest,
	)
	uri, err := r.p.blobs.PutObject(ctx, path, "text/plain; charset=utf-8", bytes.Clone(data))
	if err != nil {
		r.logger.Warn("archive agent response failed", zap.Error(err), zap.String("path", path))
		return
	}
	r.archiveURI = uri
}

func (p *Pipeline) notify(ctx context.Context, r *run, leadCount int) {
	if p.publisher == nil {
		return
	}
	msg := Notification{
		RunID:      r.id,
		Product:    r.query.Product,
		Region:     r.query.Region,
		LeadCount:  leadCount,
		ArchiveURI: r.archiveURI,
		FinishedAt: p.clock.Now(),
	}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, msg)
	if err != nil {
		r.logger.Warn("publish run notification failed", zap.Error(err))
		return
	}
	r.logger.Debug("run notification published", zap.String("message_id", id))
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.events == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = p.clock.Now()
	}
	p.events.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
