package queue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/batchgraph/pkg/pipeline"
)

type published struct {
	key     string
	body    []byte
	headers amqp091.Table
}

type fakePublisher struct {
	out []published
	err error
}

func (f *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{key: key, body: msg.Body, headers: msg.Headers})
	return nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

type fakeRunner struct {
	phases    []pipeline.Phase
	resources []string
	err       error
}

func (f *fakeRunner) RunPhase(ctx context.Context, runID string, phase pipeline.Phase) (pipeline.Summary, error) {
	f.phases = append(f.phases, phase)
	return pipeline.Summary{RunID: runID, Phase: phase}, f.err
}

func (f *fakeRunner) ConsolidateResource(ctx context.Context, resourceID string) (pipeline.ConsolidationResult, error) {
	f.resources = append(f.resources, resourceID)
	return pipeline.ConsolidationResult{ResourceID: resourceID}, f.err
}

type staticResources []string

func (s staticResources) ListResources(ctx context.Context) ([]string, error) { return s, nil }

func body(t *testing.T, msg PhaseMsg) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestDecodePhaseMsg(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"run_id":"r","phase":"edges"}`},
		{name: "resource on consolidate", body: `{"run_id":"r","phase":"consolidate","resource_id":"w1"}`},
		{name: "resource on other phase", body: `{"run_id":"r","phase":"edges","resource_id":"w1"}`, wantErr: true},
		{name: "unknown phase", body: `{"run_id":"r","phase":"index"}`, wantErr: true},
		{name: "missing run", body: `{"phase":"edges"}`, wantErr: true},
		{name: "garbage", body: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePhaseMsg([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodePhaseMsg() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProcessPhaseMessage_ChainsNextPhase(t *testing.T) {
	runner := &fakeRunner{}
	pub := &fakePublisher{}
	p := NewProcessor(ProcessorParams{Runner: runner, Publisher: pub, Chain: true})

	err := p.ProcessPhaseMessage(context.Background(), body(t, PhaseMsg{RunID: "run", Phase: pipeline.PhaseCoBatch}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.out) != 1 || pub.out[0].key != AggregateQueue {
		t.Fatalf("expected one aggregate message, got %+v", pub.out)
	}
	var next PhaseMsg
	_ = json.Unmarshal(pub.out[0].body, &next)
	if next.RunID != "run" || next.Phase != pipeline.PhaseAggregate {
		t.Fatalf("unexpected chained message %+v", next)
	}
}

func TestProcessPhaseMessage_FansOutConsolidation(t *testing.T) {
	runner := &fakeRunner{}
	pub := &fakePublisher{}
	p := NewProcessor(ProcessorParams{
		Runner:    runner,
		Resources: staticResources{"w1", "w2"},
		Publisher: pub,
		Chain:     true,
	})

	if err := p.ProcessPhaseMessage(context.Background(), body(t, PhaseMsg{RunID: "run", Phase: pipeline.PhaseEdges})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []string
	for _, m := range pub.out {
		var msg PhaseMsg
		_ = json.Unmarshal(m.body, &msg)
		if m.key != ConsolidateQueue {
			t.Fatalf("unexpected queue %s", m.key)
		}
		got = append(got, msg.ResourceID)
	}
	if !reflect.DeepEqual(got, []string{"w1", "w2"}) {
		t.Fatalf("unexpected fan out %v", got)
	}

	err := p.ProcessPhaseMessage(context.Background(), body(t, PhaseMsg{RunID: "run", Phase: pipeline.PhaseConsolidate, ResourceID: "w2"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(runner.resources, []string{"w2"}) || len(pub.out) != 2 {
		t.Fatalf("unexpected consolidation %v %d", runner.resources, len(pub.out))
	}
}

func TestProcessPhaseMessage_PhaseErrorStopsChain(t *testing.T) {
	runner := &fakeRunner{err: errors.New("db down")}
	pub := &fakePublisher{}
	p := NewProcessor(ProcessorParams{Runner: runner, Publisher: pub, Chain: true})

	err := p.ProcessPhaseMessage(context.Background(), body(t, PhaseMsg{RunID: "run", Phase: pipeline.PhaseAggregate}))
	if err == nil || len(pub.out) != 0 {
		t.Fatalf("expected error and no chained message, got %v %+v", err, pub.out)
	}
}

func TestHandleProcessingError(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		pubErr      error
		wantResult  string
		wantTarget  string
		wantRetries any
	}{
		{name: "first failure", wantResult: "retry", wantTarget: "edges_queue_retry", wantRetries: int32(1)},
		{name: "counts up", headers: amqp091.Table{"x-retries": int32(4)}, wantResult: "retry", wantTarget: "edges_queue_retry", wantRetries: int32(5)},
		{name: "int64 header", headers: amqp091.Table{"x-retries": int64(2)}, wantResult: "retry", wantTarget: "edges_queue_retry", wantRetries: int32(3)},
		{name: "exhausted", headers: amqp091.Table{"x-retries": int32(10)}, wantResult: "dlq", wantTarget: "edges_queue_dlq", wantRetries: int32(10)},
		{name: "publish fails", pubErr: errors.New("closed"), wantResult: "requeue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{err: tt.pubErr}
			ack := &fakeAck{}
			msg := amqp091.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte("{}")}

			got := HandleProcessingError(context.Background(), pub, msg, EdgesQueue)
			if got != tt.wantResult {
				t.Fatalf("result = %s, want %s", got, tt.wantResult)
			}
			if tt.pubErr != nil {
				if !ack.nacked || !ack.requeued {
					t.Fatal("expected message to be requeued")
				}
				return
			}
			if !ack.acked || len(pub.out) != 1 {
				t.Fatalf("expected ack and one publish, got %+v %+v", ack, pub.out)
			}
			if pub.out[0].key != tt.wantTarget || pub.out[0].headers["x-retries"] != tt.wantRetries {
				t.Fatalf("published %+v, want %s with %v retries", pub.out[0], tt.wantTarget, tt.wantRetries)
			}
		})
	}
}
