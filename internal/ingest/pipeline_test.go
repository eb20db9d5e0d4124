package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/importscout/internal/agent"
	"github.com/JakeFAU/importscout/internal/lead"
	"github.com/JakeFAU/importscout/internal/progress"
)

type fakeAgent struct {
	resp    agent.Response
	err     error
	prompts []string
}

func (f *fakeAgent) Generate(_ context.Context, req agent.Request) (agent.Response, error) {
	f.prompts = append(f.prompts, req.Prompt)
	return f.resp, f.err
}

type fakeBlobs struct {
	paths []string
	data  [][]byte
	err   error
}

func (f *fakeBlobs) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.paths = append(f.paths, path)
	f.data = append(f.data, data)
	return "mem://" + path, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "abcdef0123456789", nil }

type fakePublisher struct {
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, payload)
	return "msg-1", nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

const coffeeResponse = "```json\n" + `[
  {"companyName": "Kaffee Import GmbH", "summary": "Imports green coffee.", "emails": ["info@kaffee.example"], "confidenceScore": 92},
  {"companyName": "Bohnen Handel AG", "summary": "Roaster and importer.", "confidenceScore": 80},
  {"companyName": "Hamburg Coffee Trading", "emails": ["sales@hct.example"], "confidenceScore": 75},
  {"companyName": "Berlin Bean Co", "confidenceScore": 64},
  {"companyName": "Munich Organic Imports", "emails": ["hello@moi.example"], "confidenceScore": 58}
]` + "\n```"

type pipelineFixture struct {
	agent     *fakeAgent
	blobs     *fakeBlobs
	publisher *fakePublisher
	events    *recordingEmitter
	pipeline  *Pipeline
}

func newFixture(resp agent.Response, agentErr error) *pipelineFixture {
	f := &pipelineFixture{
		agent:     &fakeAgent{resp: resp, err: agentErr},
		blobs:     &fakeBlobs{},
		publisher: &fakePublisher{},
		events:    &recordingEmitter{},
	}
	f.pipeline = NewPipeline(f.agent, f.blobs, fakeHasher{}, f.publisher, f.events,
		&seqIDs{}, fixedClock{testNow}, Config{ArchivePrefix: "responses", Topic: "leads"}, nil)
	return f
}

func TestPipelineRunSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(agent.Response{
		Text: coffeeResponse,
		Grounding: []agent.GroundingChunk{
			{Web: &agent.WebReference{Title: "Importers", URI: "https://dir.example/coffee"}},
			{Web: &agent.WebReference{URI: "https://maps.example/place"}},
		},
	}, nil)

	var states []State
	res, err := f.pipeline.Run(context.Background(),
		lead.Query{Product: "Organic Coffee", Region: "Germany", Limit: 5},
		func(s State) { states = append(states, s) })
	require.NoError(t, err)

	require.Equal(t, []State{StateBuilding, StateRequesting, StateParsing, StateNormalizing, StateComplete}, states)
	require.Equal(t, "id-1", res.RunID)
	require.Len(t, res.Leads, 5)

	names := make([]string, 0, len(res.Leads))
	missingEmails := 0
	for _, l := range res.Leads {
		names = append(names, l.CompanyName)
		require.Equal(t, "Germany", l.Region)
		require.Equal(t, "Organic Coffee", l.Category)
		require.NotNil(t, l.Emails)
		if len(l.Emails) == 0 {
			missingEmails++
		}
		require.Equal(t, []lead.Source{
			{Title: "Importers", URI: "https://dir.example/coffee"},
			{Title: DefaultSourceTitle, URI: "https://maps.example/place"},
		}, l.Sources)
	}
	require.Equal(t, []string{
		"Kaffee Import GmbH", "Bohnen Handel AG", "Hamburg Coffee Trading", "Berlin Bean Co", "Munich Organic Imports",
	}, names)
	require.Equal(t, 2, missingEmails)

	require.Len(t, f.agent.prompts, 1)
	require.Contains(t, f.agent.prompts[0], "Organic Coffee")
	require.Contains(t, f.agent.prompts[0], "Germany")

	require.Equal(t, []string{"responses/2026/03/14/id-1-abcdef012345.txt"}, f.blobs.paths)
	require.Equal(t, coffeeResponse, string(f.blobs.data[0]))
	require.Equal(t, "mem://responses/2026/03/14/id-1-abcdef012345.txt", res.ArchiveURI)

	require.Len(t, f.publisher.payloads, 1)
	note, ok := f.publisher.payloads[0].(Notification)
	require.True(t, ok)
	require.Equal(t, "id-1", note.RunID)
	require.Equal(t, 5, note.LeadCount)
	require.Equal(t, res.ArchiveURI, note.ArchiveURI)

	stages := f.events.stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	for _, evt := range f.events.events {
		require.NoError(t, evt.Validate())
	}
}

func TestPipelineProseWrappedEmptyArray(t *testing.T) {
	t.Parallel()

	f := newFixture(agent.Response{Text: "Here are the results:\n```json\n[]\n```"}, nil)
	var last State
	res, err := f.pipeline.Run(context.Background(), lead.Query{Product: "Tea", Region: "Chile", Limit: 3},
		func(s State) { last = s })
	require.NoError(t, err)
	require.NotNil(t, res.Leads)
	require.Empty(t, res.Leads)
	require.Equal(t, StateComplete, last)
}

func TestPipelineEmptyTextYieldsNoLeads(t *testing.T) {
	t.Parallel()

	f := newFixture(agent.Response{Text: "  "}, nil)
	res, err := f.pipeline.Run(context.Background(), lead.Query{Product: "Tea", Region: "Chile", Limit: 3}, nil)
	require.NoError(t, err)
	require.Empty(t, res.Leads)
}

func TestPipelineObjectIsInvalidFormat(t *testing.T) {
	t.Parallel()

	f := newFixture(agent.Response{Text: `{"companyName":"Solo Importer"}`}, nil)
	var last State
	res, err := f.pipeline.Run(context.Background(), lead.Query{Product: "Tea", Region: "Chile", Limit: 3},
		func(s State) { last = s })
	require.ErrorIs(t, err, ErrInvalidFormat)
	require.Empty(t, res.Leads)
	require.Equal(t, StateError, last)
	require.Empty(t, f.publisher.payloads)
	require.Equal(t, progress.StageRunError, f.events.stages()[len(f.events.stages())-1])
}

func TestPipelineUnparsableIsInvalidFormat(t *testing.T) {
	t.Parallel()

	f := newFixture(agent.Response{Text: "Sorry, I could not find any importers."}, nil)
	_, err := f.pipeline.Run(context.Background(), lead.Query{Product: "Tea", Region: "Chile", Limit: 3}, nil)
	require.ErrorIs(t, err, ErrInvalidFormat)
	require.Len(t, f.blobs.paths, 1)
}

func TestPipelineAgentFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	f := newFixture(agent.Response{}, boom)
	var states []State
	res, err := f.pipeline.Run(context.Background(), lead.Query{Product: "Tea", Region: "Chile", Limit: 3},
		func(s State) { states = append(states, s) })
	require.ErrorIs(t, err, ErrAgentUnavailable)
	require.ErrorIs(t, err, boom)
	require.Nil(t, res.Leads)
	require.Equal(t, []State{StateBuilding, StateRequesting, StateError}, states)
	require.Empty(t, f.blobs.paths)

	last := f.events.events[len(f.events.events)-1]
	require.Equal(t, progress.StageRunError, last.Stage)
	require.True(t, strings.Contains(last.Note, "quota exceeded"))
}

func TestPipelineSideEffectFailuresAreNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(agent.Response{Text: `[{"companyName":"A"}]`}, nil)
	f.blobs.err = errors.New("bucket gone")
	f.publisher.err = errors.New("topic gone")
	res, err := f.pipeline.Run(context.Background(), lead.Query{Product: "Tea", Region: "Chile", Limit: 1}, nil)
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)
	require.Empty(t, res.ArchiveURI)
}

func TestPipelineOptionalCollaborators(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&fakeAgent{resp: agent.Response{Text: "[{}]"}}, nil, nil, nil, nil,
		&seqIDs{}, fixedClock{testNow}, Config{}, nil)
	res, err := p.Run(context.Background(), lead.Query{Product: "Tea", Region: "Chile", Limit: 1}, nil)
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)
	require.Equal(t, "id-2", res.Leads[0].ID)
}
