// Package history keeps a capped, newest-first log of emotion observations
// on top of a store.Store and derives statistics from it.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/emotion-lens/internal/model"
	"github.com/rcliao/emotion-lens/internal/store"
)

const (
	// MaxRecords is the number of records kept; older ones are evicted.
	MaxRecords = 100

	// MaxInputText is the number of runes of analyzed text echoed into a record.
	MaxInputText = 100

	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// NewRecord holds the caller-supplied fields of a record. ID and Date are
// assigned by Append.
type NewRecord struct {
	Emotion    string
	Confidence string
	Source     model.Source
	Timestamp  string // defaults to the current local time of day
	InputText  string
}

// History is the persistent record store. Storage failures never reach the
// caller: reads degrade to an empty history and writes to a no-op. A write
// whose read failed is skipped so stored records are never replaced by a
// partial list.
type History struct {
	kv      store.Store
	log     zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a History.
type Option func(*History)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// WithLogger sets the logger used for swallowed storage failures.
func WithLogger(l zerolog.Logger) Option {
	return func(h *History) { h.log = l }
}

// New returns a History backed by kv.
func New(kv store.Store, opts ...Option) *History {
	h := &History{
		kv:      kv,
		log:     zerolog.Nop(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *History) newID() string {
	return ulid.MustNew(ulid.Timestamp(h.now()), h.entropy).String()
}

// List returns all records, newest first.
func (h *History) List(ctx context.Context) []model.EmotionRecord {
	records, err := h.load(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("history unavailable, treating as empty")
	}
	return records
}

// Append stores a new record at the head of the history, evicting the oldest
// records beyond MaxRecords.
func (h *History) Append(ctx context.Context, r NewRecord) model.EmotionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	rec := model.EmotionRecord{
		ID:         h.newID(),
		Emotion:    r.Emotion,
		Confidence: r.Confidence,
		Source:     r.Source,
		Timestamp:  r.Timestamp,
		Date:       now.Format(DateLayout),
	}
	if rec.Timestamp == "" {
		rec.Timestamp = now.Format(TimeLayout)
	}
	if r.Source == model.SourceText && r.InputText != "" {
		rec.InputText = truncate(r.InputText, MaxInputText)
	}

	records, err := h.load(ctx)
	if err != nil {
		h.log.Warn().Err(err).Str("id", rec.ID).Msg("history unavailable, append not persisted")
		return rec
	}
	updated := make([]model.EmotionRecord, 0, len(records)+1)
	updated = append(updated, rec)
	updated = append(updated, records...)
	if len(updated) > MaxRecords {
		updated = updated[:MaxRecords]
	}

	if err := h.save(ctx, updated); err != nil {
		h.log.Warn().Err(err).Str("id", rec.ID).Msg("history append not persisted")
	}
	return rec
}

// Remove deletes the record with the given id. Unknown ids are ignored.
func (h *History) Remove(ctx context.Context, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.load(ctx)
	if err != nil {
		h.log.Warn().Err(err).Str("id", id).Msg("history unavailable, remove not persisted")
		return
	}
	kept := make([]model.EmotionRecord, 0, len(records))
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return
	}

	if err := h.save(ctx, kept); err != nil {
		h.log.Warn().Err(err).Str("id", id).Msg("history remove not persisted")
	}
}

// Clear deletes the whole history.
func (h *History) Clear(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.kv.Remove(ctx, store.HistoryKey); err != nil {
		h.log.Warn().Err(err).Msg("history clear failed")
	}
}

// ByDate returns the records observed on date (YYYY-MM-DD).
func (h *History) ByDate(ctx context.Context, date string) []model.EmotionRecord {
	var out []model.EmotionRecord
	for _, r := range h.List(ctx) {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}

// Recent returns the records whose date (taken as midnight) is no earlier
// than days before now. With the clock past midnight that is today and the
// previous days-1 dates, the same window ComputeTrend draws.
func (h *History) Recent(ctx context.Context, days int) []model.EmotionRecord {
	if days <= 0 {
		days = 7
	}
	now := h.now()
	cutoff := now.AddDate(0, 0, -days)

	var out []model.EmotionRecord
	for _, r := range h.List(ctx) {
		d, err := time.ParseInLocation(DateLayout, r.Date, now.Location())
		if err != nil {
			continue
		}
		if !d.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Export returns the history as an indented JSON array.
func (h *History) Export(ctx context.Context) ([]byte, error) {
	records, err := h.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return json.MarshalIndent(records, "", "  ")
}

// Import merges records into the history. Records with a known id, an empty
// emotion or an unknown source are skipped; records without an id or date get
// one. The merged list is ordered newest date first and capped.
func (h *History) Import(ctx context.Context, records []model.EmotionRecord) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, err := h.load(ctx)
	if err != nil {
		return 0, fmt.Errorf("read history: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.ID] = true
	}

	merged := existing
	imported := 0
	for _, r := range records {
		if r.Emotion == "" || !model.ValidSources[r.Source] {
			continue
		}
		if r.ID == "" {
			r.ID = h.newID()
		}
		if seen[r.ID] {
			continue
		}
		if r.Date == "" {
			r.Date = h.now().Format(DateLayout)
		}
		seen[r.ID] = true
		merged = append(merged, r)
		imported++
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Date > merged[j].Date
	})
	if len(merged) > MaxRecords {
		merged = merged[:MaxRecords]
	}

	if err := h.save(ctx, merged); err != nil {
		return 0, err
	}
	return imported, nil
}

// load reads the stored list. A backend error is returned; corrupt JSON
// reads as an empty history that the next write replaces.
func (h *History) load(ctx context.Context) ([]model.EmotionRecord, error) {
	records := []model.EmotionRecord{}

	data, ok, err := h.kv.Get(ctx, store.HistoryKey)
	if err != nil {
		return records, err
	}
	if !ok || data == "" {
		return records, nil
	}
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		h.log.Warn().Err(err).Msg("history corrupt, treating as empty")
		return []model.EmotionRecord{}, nil
	}
	if records == nil {
		records = []model.EmotionRecord{}
	}
	return records, nil
}

func (h *History) save(ctx context.Context, records []model.EmotionRecord) error {
	b, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return h.kv.Set(ctx, store.HistoryKey, string(b))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
