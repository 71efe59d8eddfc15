// Package consolidation implements the sleep batch: it buckets the messages
// accumulated since the last successful batch into days, writes temp-tier day
// summaries, promotes summaries past their TTL to the long tier, decays the
// bandit and relaxes mood state. The batch runs with exclusive access to the
// shared subsystems; in-flight pipelines drain first and new ones queue until
// it finishes.
package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/arkestra-ai/arkestra/bandit"
	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/logging"
)

// TempTTLDays is how many days a summary stays in the temp tier before
// promotion to the long tier.
const TempTTLDays = 7

// Gate grants exclusive access to the shared pipeline state. The
// orchestrator implements it; a nil gate runs the batch ungated, which is
// only safe when no pipelines are live (one-shot CLI use).
type Gate interface {
	Quiesce(fn func() error) error
}

// MoodResetter relaxes all live mood profiles toward their base levels.
type MoodResetter interface {
	SleepResetAll(ctx context.Context) error
}

// Options configures a Runner.
type Options struct {
	// Summarizer condenses one day of messages. Nil falls back to a plain
	// transcript truncation.
	Summarizer core.ModelBackend

	// DecayFactor scales bandit trial counts once per batch.
	DecayFactor float64

	// SummaryMaxChars caps fallback summaries.
	SummaryMaxChars int

	// Now overrides the clock in tests.
	Now func() time.Time

	// Logger receives batch telemetry.
	Logger *logging.PipelineLogger
}

// Runner executes sleep batches over a consolidation store.
type Runner struct {
	store    core.ConsolidationStore
	selector *bandit.Selector
	gate     Gate
	resetter MoodResetter

	summarizer      core.ModelBackend
	decayFactor     float64
	summaryMaxChars int
	now             func() time.Time
	logger          *logging.PipelineLogger
}

// New constructs a Runner. gate and resetter may be nil for one-shot runs
// with no live pipelines.
func New(store core.ConsolidationStore, selector *bandit.Selector, gate Gate, resetter MoodResetter, optFns ...func(o *Options)) *Runner {
	opts := Options{
		DecayFactor:     bandit.DefaultDecay,
		SummaryMaxChars: 2000,
		Now:             time.Now,
		Logger:          logging.NewPipelineLogger(logging.DefaultLoggerConfig()),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{
		store:           store,
		selector:        selector,
		gate:            gate,
		resetter:        resetter,
		summarizer:      opts.Summarizer,
		decayFactor:     opts.DecayFactor,
		summaryMaxChars: opts.SummaryMaxChars,
		now:             opts.Now,
		logger:          opts.Logger,
	}
}

// Run executes one sleep batch and records its outcome. A failed batch is
// recorded with status "error" and does not advance the watermark.
func (r *Runner) Run(ctx context.Context) (core.SleepBatch, error) {
	batch := core.SleepBatch{
		ID:        uuid.NewString(),
		StartedAt: r.now().UTC(),
	}
	log := r.logger.WithStage("sleep").WithContext("batch_id", batch.ID)

	work := func() error { return r.consolidate(ctx, &batch, log) }
	var err error
	if r.gate != nil {
		err = r.gate.Quiesce(work)
	} else {
		err = work()
	}

	batch.FinishedAt = r.now().UTC()
	if err != nil {
		batch.Status = "error"
	} else {
		batch.Status = "ok"
	}
	if recErr := r.store.RecordSleepBatch(ctx, batch); recErr != nil {
		log.Error("record sleep batch failed", "error", recErr)
		if err == nil {
			err = recErr
		}
	}
	if err != nil {
		return batch, fmt.Errorf("sleep batch %s: %w", batch.ID, err)
	}
	log.Info("sleep batch complete", "processed", batch.Processed)
	return batch, nil
}

func (r *Runner) consolidate(ctx context.Context, batch *core.SleepBatch, log *logging.PipelineLogger) error {
	watermark, err := r.store.LastSleepWatermark(ctx)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	batch.FromSeen = watermark
	batch.ToSeen = watermark

	msgs, err := r.store.MessagesSince(ctx, watermark)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	batch.Processed = len(msgs)

	days := bucketByDay(msgs)
	for _, day := range sortedDates(days) {
		dayMsgs := days[day]
		text := r.summarize(ctx, day, dayMsgs, log)
		sum := core.DaySummary{
			Date:     day,
			Text:     text,
			Salience: salience(dayMsgs),
			BatchID:  batch.ID,
		}
		if err := r.store.SaveDaySummary(ctx, sum); err != nil {
			return fmt.Errorf("save day summary %s: %w", day, err)
		}
	}
	for _, m := range msgs {
		if m.CreatedAt.After(batch.ToSeen) {
			batch.ToSeen = m.CreatedAt
		}
	}

	cutoff := r.now().UTC().AddDate(0, 0, -TempTTLDays).Format("2006-01-02")
	promoted, err := r.store.PromoteAgedSummaries(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("promote summaries: %w", err)
	}
	if promoted > 0 {
		log.Info("promoted temp summaries to long tier", "days", promoted)
	}

	if r.selector != nil {
		r.selector.Decay(r.decayFactor)
		if err := r.store.SaveBanditState(ctx, r.selector.Snapshot()); err != nil {
			return fmt.Errorf("save bandit state: %w", err)
		}
	}
	if r.resetter != nil {
		if err := r.resetter.SleepResetAll(ctx); err != nil {
			return fmt.Errorf("mood sleep reset: %w", err)
		}
	}
	return nil
}

// summarize condenses one day of messages. Summarizer failures degrade to
// the transcript fallback rather than failing the batch.
func (r *Runner) summarize(ctx context.Context, day string, msgs []core.Message, log *logging.PipelineLogger) string {
	transcript := renderTranscript(msgs)
	if r.summarizer == nil {
		return truncate(transcript, r.summaryMaxChars)
	}
	text, err := r.summarizer.Invoke(ctx, core.PromptRequest{
		Role:   "summarizer",
		System: summarySystem,
		Prompt: fmt.Sprintf("Day: %s\n\n%s", day, transcript),
	})
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn("summarizer failed, using transcript fallback", "day", day, "error", err)
		return truncate(transcript, r.summaryMaxChars)
	}
	return truncate(strings.TrimSpace(text), r.summaryMaxChars)
}

const summarySystem = `Summarize one day of conversation into a short paragraph.
Keep concrete facts, decisions and follow-ups; drop greetings and filler.
Answer with the summary text only.`

func bucketByDay(msgs []core.Message) map[string][]core.Message {
	days := make(map[string][]core.Message)
	for _, m := range msgs {
		day := m.CreatedAt.UTC().Format("2006-01-02")
		days[day] = append(days[day], m)
	}
	return days
}

func sortedDates(days map[string][]core.Message) []string {
	out := make([]string, 0, len(days))
	for day := range days {
		out = append(out, day)
	}
	sort.Strings(out)
	return out
}

// salience grows with the day's volume, saturating at 1.
func salience(msgs []core.Message) float64 {
	s := float64(len(msgs)) / 20
	if s > 1 {
		return 1
	}
	return s
}

func renderTranscript(msgs []core.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
