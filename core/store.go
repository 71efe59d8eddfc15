package core

import (
	"context"
	"time"
)

// ArmState is the persisted form of one bandit arm.
type ArmState struct {
	Intent     string    `json:"intent"`
	Kind       string    `json:"kind"`
	Trials     int       `json:"trials"`
	MeanReward float64   `json:"mean_reward"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MediatorState is the persisted form of one mood mediator.
type MediatorState struct {
	Min     float64 `json:"min"`
	Base    float64 `json:"base"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
}

// Store is the persistence contract the pipeline depends on. The engine does
// not define the storage format; it only requires that each write during a
// successful run is attempted exactly once. Implementations must be safe for
// concurrent use by multiple session pipelines.
type Store interface {
	// GetRecentMessages returns up to n most recent messages for the session
	// in chronological order.
	GetRecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error)

	// AppendMessage persists one conversation turn and returns its id.
	AppendMessage(ctx context.Context, msg Message) (int64, error)

	// GetEnvBrief returns the environment brief for the session.
	GetEnvBrief(ctx context.Context, sessionID string) (EnvBrief, error)

	// SaveFeedback records a user reaction to an assistant message.
	SaveFeedback(ctx context.Context, fb Feedback) error

	// LoadBanditState returns all persisted bandit arms.
	LoadBanditState(ctx context.Context) ([]ArmState, error)

	// SaveBanditState replaces the persisted bandit arms with the snapshot.
	SaveBanditState(ctx context.Context, arms []ArmState) error

	// LoadMoodProfile returns the persisted mood profile for the session, or
	// an empty map when none has been saved yet.
	LoadMoodProfile(ctx context.Context, sessionID string) (map[string]MediatorState, error)

	// SaveMoodProfile persists the session's mood profile.
	SaveMoodProfile(ctx context.Context, sessionID string, profile map[string]MediatorState) error

	// SaveMemoryWrite persists a fact or note requested by the senior stage.
	SaveMemoryWrite(ctx context.Context, sessionID string, w MemoryWrite) error
}

// DaySummary is a temp-tier consolidation artifact: one summarized day of
// conversation, promoted to the long tier once it ages past the TTL.
type DaySummary struct {
	Date     string  `json:"date"` // YYYY-MM-DD
	Text     string  `json:"text"`
	Salience float64 `json:"salience"`
	BatchID  string  `json:"batch_id"`
}

// SleepBatch records one consolidation run and its message watermark window.
type SleepBatch struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	FromSeen   time.Time `json:"from_seen_at"`
	ToSeen     time.Time `json:"to_seen_at"`
	Processed  int       `json:"processed_count"`
	Status     string    `json:"status"`
}

// ConsolidationStore is the extra persistence surface the sleep batch needs
// on top of Store. Both bundled store implementations provide it.
type ConsolidationStore interface {
	Store

	// MessagesSince returns all messages newer than the watermark, oldest
	// first, across all sessions.
	MessagesSince(ctx context.Context, watermark time.Time) ([]Message, error)

	// LastSleepWatermark returns the ToSeen watermark of the most recent
	// successful batch, or the zero time when none exists.
	LastSleepWatermark(ctx context.Context) (time.Time, error)

	// SaveDaySummary writes one temp-tier day summary.
	SaveDaySummary(ctx context.Context, s DaySummary) error

	// PromoteAgedSummaries moves day summaries dated on or before cutoff to
	// the long tier and returns how many days were promoted.
	PromoteAgedSummaries(ctx context.Context, cutoff string) (int, error)

	// RecordSleepBatch persists the batch record.
	RecordSleepBatch(ctx context.Context, b SleepBatch) error
}
