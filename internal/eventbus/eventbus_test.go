package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	nc "github.com/nats-io/nats.go"

	epnats "github.com/cliairmonitor/epimem/internal/nats"
	"github.com/cliairmonitor/epimem/internal/types"
)

func startTestBus(t *testing.T, port int) (*Server, *Bus) {
	t.Helper()

	srv, err := StartEmbedded(port, 5*time.Second)
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	bus, err := Connect(srv.URL(), "test-engine")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(bus.Close)

	return srv, bus
}

func TestPublishEpisodeCompletedDeliversMessage(t *testing.T) {
	srv, bus := startTestBus(t, 18391)

	conn, err := nc.Connect(srv.URL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer conn.Close()

	msgCh := make(chan *nc.Msg, 1)
	sub, err := conn.ChanSubscribe(epnats.SubjectEpisodeCompleted, msgCh)
	if err != nil {
		t.Fatalf("ChanSubscribe: %v", err)
	}
	defer sub.Unsubscribe()
	conn.Flush()

	ep := &types.Episode{
		EpisodeID: "ep-123",
		Context:   types.Context{Domain: "ci-ops"},
		TaskType:  types.TaskDebugging,
		Outcome:   &types.TaskOutcome{Kind: types.OutcomeSuccess, Verdict: "fixed"},
	}
	bus.PublishEpisodeCompleted(context.Background(), ep)

	select {
	case msg := <-msgCh:
		var got epnats.EpisodeCompletedMessage
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.EpisodeID != "ep-123" || got.Domain != "ci-ops" || !got.Success {
			t.Errorf("unexpected payload: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for episode.completed message")
	}
}

func TestPublishAnomalyDetectedDeliversMessage(t *testing.T) {
	srv, bus := startTestBus(t, 18392)

	conn, err := nc.Connect(srv.URL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer conn.Close()

	msgCh := make(chan *nc.Msg, 1)
	sub, err := conn.ChanSubscribe(epnats.SubjectEpisodeAnomaly, msgCh)
	if err != nil {
		t.Fatalf("ChanSubscribe: %v", err)
	}
	defer sub.Unsubscribe()
	conn.Flush()

	bus.PublishAnomalyDetected(context.Background(), []string{"ep-1", "ep-2"})

	select {
	case msg := <-msgCh:
		var got epnats.AnomalyDetectedMessage
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(got.EpisodeIDs) != 2 {
			t.Errorf("expected 2 episode IDs, got %+v", got.EpisodeIDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for episode.anomaly message")
	}
}

func TestPublishAnomalyDetectedSkipsEmptyList(t *testing.T) {
	_, bus := startTestBus(t, 18393)
	// Must not panic or attempt a publish with no episode IDs.
	bus.PublishAnomalyDetected(context.Background(), nil)
}

func TestNilBusPublishIsANoOp(t *testing.T) {
	var bus *Bus
	bus.PublishEpisodeCompleted(context.Background(), &types.Episode{EpisodeID: "x"})
	bus.PublishAnomalyDetected(context.Background(), []string{"x"})
}
