package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "importscout-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "run-events")
	require.NoError(t, err)
	return srv, topic
}

func TestPublisherPublishesJSON(t *testing.T) {
	srv, topic := newFakeTopic(t)
	pub := New(topic, nil)
	t.Cleanup(func() { _ = pub.Close() })

	payload := map[string]any{"run_id": "run-1", "lead_count": 3}
	id, err := pub.Publish(context.Background(), "run-events", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)
	require.Equal(t, "run-events", msgs[0].Attributes["topic"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "run-1", decoded["run_id"])
	require.EqualValues(t, 3, decoded["lead_count"])
}

func TestPublisherRejectsUnmarshalablePayload(t *testing.T) {
	_, topic := newFakeTopic(t)
	pub := New(topic, nil)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestPublisherNotConfigured(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "run.completed", "x")
	require.Error(t, err)
	require.NoError(t, pub.Close())

	_, err = New(nil, nil).Publish(context.Background(), "run.completed", "x")
	require.Error(t, err)
}

func TestOpenRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ", "run-events", nil)
	require.Error(t, err)
	_, err = Open(context.Background(), "proj", "", nil)
	require.Error(t, err)
}

func TestCarrierInjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	carrier := &pubsubCarrier{attrs: map[string]string{}}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	require.Contains(t, carrier.Keys(), "traceparent")
}
