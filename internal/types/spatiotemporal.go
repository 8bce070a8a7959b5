package types

import "time"

// ClusterGranularity is the temporal bucket size for a TemporalCluster.
// spec.md §9 leaves this open; SPEC_FULL.md §4 fixes it at Weekly for
// now while keeping the type open for Hourly/Daily/Monthly.
type ClusterGranularity string

const (
	GranularityHourly  ClusterGranularity = "hourly"
	GranularityDaily   ClusterGranularity = "daily"
	GranularityWeekly  ClusterGranularity = "weekly"
	GranularityMonthly ClusterGranularity = "monthly"
)

// TemporalCluster buckets episode IDs into a half-open time window.
type TemporalCluster struct {
	Granularity ClusterGranularity `json:"granularity"`
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	EpisodeIDs  map[string]struct{} `json:"-"`
}

// Contains reports whether t falls in [Start, End).
func (c *TemporalCluster) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// Size returns the number of episode IDs in the cluster.
func (c *TemporalCluster) Size() int {
	return len(c.EpisodeIDs)
}

// WeeklyWindowFor returns the [start, end) weekly window containing t,
// anchored to the ISO week start (Monday 00:00 UTC).
func WeeklyWindowFor(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	weekday := int(t.Weekday())
	// time.Sunday == 0; convert to Monday-first offset.
	offset := (weekday + 6) % 7
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	start := dayStart.AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 7)
	return start, end
}
