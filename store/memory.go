// Package store provides the bundled core.Store implementations: a
// process-local in-memory store for tests and demos, and (in the sqlite
// subpackage) a durable SQLite store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arkestra-ai/arkestra/core"
)

type note struct {
	id        int64
	sessionID string
	text      string
	tags      []string
}

type reminder struct {
	id        int64
	sessionID string
	title     string
	when      time.Time
	channel   string
}

type alias struct {
	alias     string
	primary   bool
	shortDesc string
}

// InMemory is a volatile ConsolidationStore guarded by a single RWMutex.
// Suitable for tests and ephemeral demo sessions; swap for the sqlite store
// in anything durable. It also implements the narrow persistence surfaces
// the bundled tools need.
type InMemory struct {
	mu           sync.RWMutex
	messages     []core.Message
	nextID       int64
	envBriefs    map[string]core.EnvBrief
	feedback     []core.Feedback
	bandit       []core.ArmState
	moods        map[string]map[string]core.MediatorState
	memoryWrites map[string][]core.MemoryWrite
	notes        []note
	reminders    []reminder
	aliases      map[string][]alias
	daySummaries []core.DaySummary
	longDays     map[string]string
	sleepBatches []core.SleepBatch
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		envBriefs:    make(map[string]core.EnvBrief),
		moods:        make(map[string]map[string]core.MediatorState),
		memoryWrites: make(map[string][]core.MemoryWrite),
		aliases:      make(map[string][]alias),
		longDays:     make(map[string]string),
	}
}

// GetRecentMessages implements core.Store.
func (s *InMemory) GetRecentMessages(ctx context.Context, sessionID string, n int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < n; i-- {
		if s.messages[i].SessionID == sessionID {
			out = append(out, s.messages[i])
		}
	}
	// Collected newest first; return chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendMessage implements core.Store.
func (s *InMemory) AppendMessage(ctx context.Context, msg core.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

// GetEnvBrief implements core.Store.
func (s *InMemory) GetEnvBrief(ctx context.Context, sessionID string) (core.EnvBrief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if brief, ok := s.envBriefs[sessionID]; ok {
		return brief, nil
	}
	return core.EnvBrief{Channel: "cli", ChatID: sessionID}, nil
}

// PutEnvBrief seeds the environment brief for a session.
func (s *InMemory) PutEnvBrief(sessionID string, brief core.EnvBrief) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Keep only the five most important facts, the slice handed to briefs.
	sort.SliceStable(brief.Facts, func(i, j int) bool { return brief.Facts[i].Importance > brief.Facts[j].Importance })
	if len(brief.Facts) > 5 {
		brief.Facts = brief.Facts[:5]
	}
	s.envBriefs[sessionID] = brief
}

// SaveFeedback implements core.Store.
func (s *InMemory) SaveFeedback(ctx context.Context, fb core.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, fb)
	return nil
}

// Feedback returns all recorded feedback.
func (s *InMemory) Feedback() []core.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Feedback(nil), s.feedback...)
}

// LoadBanditState implements core.Store.
func (s *InMemory) LoadBanditState(ctx context.Context) ([]core.ArmState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.ArmState(nil), s.bandit...), nil
}

// SaveBanditState implements core.Store.
func (s *InMemory) SaveBanditState(ctx context.Context, arms []core.ArmState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bandit = append([]core.ArmState(nil), arms...)
	return nil
}

// LoadMoodProfile implements core.Store.
func (s *InMemory) LoadMoodProfile(ctx context.Context, sessionID string) (map[string]core.MediatorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	saved, ok := s.moods[sessionID]
	if !ok {
		return map[string]core.MediatorState{}, nil
	}
	out := make(map[string]core.MediatorState, len(saved))
	for k, v := range saved {
		out[k] = v
	}
	return out, nil
}

// SaveMoodProfile implements core.Store.
func (s *InMemory) SaveMoodProfile(ctx context.Context, sessionID string, profile map[string]core.MediatorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]core.MediatorState, len(profile))
	for k, v := range profile {
		cp[k] = v
	}
	s.moods[sessionID] = cp
	return nil
}

// SaveMemoryWrite implements core.Store.
func (s *InMemory) SaveMemoryWrite(ctx context.Context, sessionID string, w core.MemoryWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoryWrites[sessionID] = append(s.memoryWrites[sessionID], w)
	return nil
}

// MemoryWrites returns the session's recorded memory writes.
func (s *InMemory) MemoryWrites(sessionID string) []core.MemoryWrite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.MemoryWrite(nil), s.memoryWrites[sessionID]...)
}

// ---------------------------------------------------------------- tools

// AddNote implements tool.NoteStore.
func (s *InMemory) AddNote(ctx context.Context, sessionID, text string, tags []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.notes = append(s.notes, note{id: s.nextID, sessionID: sessionID, text: text, tags: tags})
	return s.nextID, nil
}

// CreateReminder implements tool.ReminderStore.
func (s *InMemory) CreateReminder(ctx context.Context, sessionID, title string, when time.Time, channel string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.reminders = append(s.reminders, reminder{id: s.nextID, sessionID: sessionID, title: title, when: when, channel: channel})
	return s.nextID, nil
}

// SetAlias implements tool.AliasStore.
func (s *InMemory) SetAlias(ctx context.Context, sessionID, name string, primary bool, shortDesc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.aliases[sessionID]
	for i := range list {
		if primary {
			list[i].primary = false
		}
		if list[i].alias == name {
			list[i].primary = primary
			list[i].shortDesc = shortDesc
			s.aliases[sessionID] = list
			return nil
		}
	}
	s.aliases[sessionID] = append(list, alias{alias: name, primary: primary, shortDesc: shortDesc})
	return nil
}

// MessagesByDate implements tool.MessageSearcher.
func (s *InMemory) MessagesByDate(ctx context.Context, sessionID, date string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID && m.CreatedAt.UTC().Format("2006-01-02") == date {
			out = append(out, m)
		}
	}
	return out, nil
}

// -------------------------------------------------------- consolidation

// MessagesSince implements core.ConsolidationStore.
func (s *InMemory) MessagesSince(ctx context.Context, watermark time.Time) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Message
	for _, m := range s.messages {
		if m.CreatedAt.After(watermark) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// LastSleepWatermark implements core.ConsolidationStore.
func (s *InMemory) LastSleepWatermark(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest core.SleepBatch
	for _, b := range s.sleepBatches {
		if b.Status == "ok" && b.FinishedAt.After(latest.FinishedAt) {
			latest = b
		}
	}
	return latest.ToSeen, nil
}

// SaveDaySummary implements core.ConsolidationStore.
func (s *InMemory) SaveDaySummary(ctx context.Context, sum core.DaySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daySummaries = append(s.daySummaries, sum)
	return nil
}

// DaySummaries returns the temp-tier summaries.
func (s *InMemory) DaySummaries() []core.DaySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.DaySummary(nil), s.daySummaries...)
}

// PromoteAgedSummaries implements core.ConsolidationStore.
func (s *InMemory) PromoteAgedSummaries(ctx context.Context, cutoff string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grouped := make(map[string][]string)
	var kept []core.DaySummary
	for _, d := range s.daySummaries {
		if d.Date <= cutoff {
			grouped[d.Date] = append(grouped[d.Date], d.Text)
		} else {
			kept = append(kept, d)
		}
	}
	for date, texts := range grouped {
		joined := ""
		for i, t := range texts {
			if i > 0 {
				joined += " "
			}
			joined += t
		}
		if len(joined) > 2000 {
			joined = joined[:2000]
		}
		s.longDays[date] = joined
	}
	s.daySummaries = kept
	return len(grouped), nil
}

// LongDays returns the long-tier day summaries keyed by date.
func (s *InMemory) LongDays() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.longDays))
	for k, v := range s.longDays {
		out[k] = v
	}
	return out
}

// RecordSleepBatch implements core.ConsolidationStore.
func (s *InMemory) RecordSleepBatch(ctx context.Context, b core.SleepBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleepBatches = append(s.sleepBatches, b)
	return nil
}

// SleepBatches returns recorded consolidation batches.
func (s *InMemory) SleepBatches() []core.SleepBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.SleepBatch(nil), s.sleepBatches...)
}

var _ core.ConsolidationStore = (*InMemory)(nil)
