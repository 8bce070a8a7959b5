// Package eventbus publishes episode lifecycle events over an
// embedded NATS server, generalizing the teacher's agent-status
// broadcast subjects (internal/nats) from inter-agent task messages to
// episode-completion and anomaly notifications any subscriber (a
// dashboard, a second agent, an audit consumer) can fan out on.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	epnats "github.com/cliairmonitor/epimem/internal/nats"
	"github.com/cliairmonitor/epimem/internal/types"
)

// Server embeds a NATS server the same way cmd/cliairmonitor/main.go
// boots one: in-process, monitoring HTTP disabled, signal handling
// left to the host process.
type Server struct {
	ns   *server.Server
	port int
}

// StartEmbedded boots an in-process NATS server on port and blocks
// until it is ready to accept connections or readyTimeout elapses.
func StartEmbedded(port int, readyTimeout time.Duration) (*Server, error) {
	ns, err := server.NewServer(&server.Options{
		Port:     port,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		return nil, fmt.Errorf("embedded NATS server did not become ready within %s", readyTimeout)
	}
	return &Server{ns: ns, port: port}, nil
}

// URL returns the client-facing NATS URL for this embedded server.
func (s *Server) URL() string { return fmt.Sprintf("nats://localhost:%d", s.port) }

// Shutdown stops the embedded server.
func (s *Server) Shutdown() { s.ns.Shutdown() }

// Bus publishes episode lifecycle events to NATS. It satisfies
// internal/engine.EventPublisher.
type Bus struct {
	client *epnats.Client
}

// Connect wires a Bus against url, identifying itself as clientID
// (engine publishers identify as "epimem-engine").
func Connect(url, clientID string) (*Bus, error) {
	c, err := epnats.NewClient(url, clientID)
	if err != nil {
		return nil, err
	}
	return &Bus{client: c}, nil
}

// Close closes the underlying NATS connection.
func (b *Bus) Close() {
	if b != nil && b.client != nil {
		b.client.Close()
	}
}

// PublishEpisodeCompleted publishes an EpisodeCompletedMessage for ep.
// Publish failures are logged, not returned: event delivery is
// best-effort and must never block episode completion.
func (b *Bus) PublishEpisodeCompleted(_ context.Context, ep *types.Episode) {
	if b == nil || b.client == nil {
		return
	}
	success := ep.Outcome != nil && ep.Outcome.Kind == types.OutcomeSuccess
	msg := epnats.EpisodeCompletedMessage{
		EpisodeID: ep.EpisodeID,
		Domain:    ep.Context.Domain,
		TaskType:  string(ep.TaskType),
		Success:   success,
		Timestamp: time.Now(),
	}
	if err := b.client.PublishJSON(epnats.SubjectEpisodeCompleted, msg); err != nil {
		log.Printf("[EVENTBUS] failed to publish episode.completed for %s: %v", ep.EpisodeID, err)
	}
}

// PublishAnomalyDetected publishes an AnomalyDetectedMessage.
func (b *Bus) PublishAnomalyDetected(_ context.Context, episodeIDs []string) {
	if b == nil || b.client == nil || len(episodeIDs) == 0 {
		return
	}
	msg := epnats.AnomalyDetectedMessage{EpisodeIDs: episodeIDs, Timestamp: time.Now()}
	if err := b.client.PublishJSON(epnats.SubjectEpisodeAnomaly, msg); err != nil {
		log.Printf("[EVENTBUS] failed to publish episode.anomaly: %v", err)
	}
}
