package nats

import "time"

// Subject pattern constants for episode lifecycle notifications,
// published by internal/eventbus and consumable by any subscriber
// (a dashboard, a second agent, an audit consumer) that wants to fan
// out on completed episodes or detected anomalies.
const (
	// SubjectEpisodeCompleted announces a completed episode.
	SubjectEpisodeCompleted = "episode.completed"

	// SubjectEpisodeAnomaly announces the anomaly-detection stage's
	// flagged episodes.
	SubjectEpisodeAnomaly = "episode.anomaly"

	// SubjectAllEpisodeEvents subscribes to every episode subject.
	SubjectAllEpisodeEvents = "episode.*"
)

// EpisodeCompletedMessage is the payload published on
// SubjectEpisodeCompleted.
type EpisodeCompletedMessage struct {
	EpisodeID string    `json:"episode_id"`
	Domain    string    `json:"domain"`
	TaskType  string    `json:"task_type"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// AnomalyDetectedMessage is the payload published on
// SubjectEpisodeAnomaly.
type AnomalyDetectedMessage struct {
	EpisodeIDs []string  `json:"episode_ids"`
	Timestamp  time.Time `json:"timestamp"`
}
