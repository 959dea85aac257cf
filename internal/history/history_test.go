package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/emotion-lens/internal/model"
	"github.com/rcliao/emotion-lens/internal/store"
)

var fixedNow = time.Date(2026, 10, 17, 14, 30, 0, 0, time.Local)

func newTestHistory(t *testing.T) (*History, *store.MemoryStore) {
	t.Helper()
	kv := store.NewMemoryStore()
	h := New(kv, WithClock(func() time.Time { return fixedNow }))
	return h, kv
}

// failingStore errors on every call.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage disabled")
}
func (failingStore) Set(context.Context, string, string) error { return errors.New("quota exceeded") }
func (failingStore) Remove(context.Context, string) error { return errors.New("storage disabled") }
func (failingStore) Close() error { return nil }

// flakyStore fails the next failGets reads and otherwise delegates.
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failGets int
}

func (f *flakyStore) failNextGet() {
	f.mu.Lock()
	f.failGets++
	f.mu.Unlock()
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	f.mu.Unlock()
	if fail {
		return "", false, errors.New("i/o timeout")
	}
	return f.MemoryStore.Get(ctx, key)
}

func TestAppendAssignsIDAndDate(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHistory(t)

	rec := h.Append(ctx, NewRecord{Emotion: "Happy", Confidence: "91.2%", Source: model.SourceFace})
	if rec.ID == "" {
		t.Error("expected non-empty ID")
	}
	if rec.Date != "2026-10-17" {
		t.Errorf("expected date 2026-10-17, got %q", rec.Date)
	}
	if rec.Timestamp != "14:30:00" {
		t.Errorf("expected default timestamp 14:30:00, got %q", rec.Timestamp)
	}

	list := h.List(ctx)
	if len(list) != 1 || list[0] != rec {
		t.Fatalf("expected stored record %+v, got %+v", rec, list)
	}
}

func TestAppendCapKeepsNewest(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHistory(t)

	const n = 150
	for i := 0; i < n; i++ {
		h.Append(ctx, NewRecord{Emotion: fmt.Sprintf("e%d", i), Confidence: "50%", Source: model.SourceFace})
	}

	list := h.List(ctx)
	if len(list) != MaxRecords {
		t.Fatalf("expected %d records, got %d", MaxRecords, len(list))
	}
	for i, r := range list {
		want := fmt.Sprintf("e%d", n-1-i)
		if r.Emotion != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, r.Emotion)
		}
	}
}

func TestIDsUnique(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHistory(t)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		r := h.Append(ctx, NewRecord{Emotion: "sad", Source: model.SourceFace})
		if seen[r.ID] {
			t.Fatalf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHistory(t)

	a := h.Append(ctx, NewRecord{Emotion: "A", Source: model.SourceFace})
	b := h.Append(ctx, NewRecord{Emotion: "B", Source: model.SourceFace})
	c := h.Append(ctx, NewRecord{Emotion: "C", Source: model.SourceFace})

	h.Remove(ctx, b.ID)

	list := h.List(ctx)
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	if list[0].ID != c.ID || list[1].ID != a.ID {
		t.Errorf("expected [C, A], got [%s, %s]", list[0].Emotion, list[1].Emotion)
	}

	// Unknown id is a no-op
	h.Remove(ctx, "missing")
	if got := len(h.List(ctx)); got != 2 {
		t.Errorf("expected 2 records after removing unknown id, got %d", got)
	}
}

func TestClearIdempotent(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHistory(t)

	h.Clear(ctx)
	if got := h.List(ctx); len(got) != 0 {
		t.Errorf("expected empty list after clearing empty store, got %d", len(got))
	}

	h.Append(ctx, NewRecord{Emotion: "happy", Source: model.SourceFace})
	h.Clear(ctx)
	h.Clear(ctx)
	if got := h.List(ctx); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", got)
	}
}

func TestCorruptDataReadsEmpty(t *testing.T) {
	ctx := context.Background()
	h, kv := newTestHistory(t)

	kv.Set(ctx, store.HistoryKey, "{not json")
	if got := h.List(ctx); len(got) != 0 {
		t.Errorf("expected empty list for corrupt data, got %d", len(got))
	}

	// Appending over corrupt data starts a fresh history
	h.Append(ctx, NewRecord{Emotion: "fear", Source: model.SourceFace})
	if got := h.List(ctx); len(got) != 1 {
		t.Errorf("expected 1 record, got %d", len(got))
	}

	kv.Set(ctx, store.HistoryKey, "null")
	if got := h.List(ctx); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list for null, got %#v", got)
	}
}

func TestStorageFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	h := New(failingStore{}, WithClock(func() time.Time { return fixedNow }))

	rec := h.Append(ctx, NewRecord{Emotion: "angry", Confidence: "77%", Source: model.SourceFace})
	if rec.ID == "" {
		t.Error("expected record to be returned even when storage fails")
	}
	if got := h.List(ctx); len(got) != 0 {
		t.Errorf("expected empty list from failing store, got %d", len(got))
	}
	h.Remove(ctx, rec.ID)
	h.Clear(ctx)
}

func TestTransientReadFailureKeepsHistory(t *testing.T) {
	ctx := context.Background()
	kv := &flakyStore{MemoryStore: store.NewMemoryStore()}
	h := New(kv, WithClock(func() time.Time { return fixedNow }))

	for i := 0; i < 50; i++ {
		h.Append(ctx, NewRecord{Emotion: fmt.Sprintf("e%d", i), Confidence: "50%", Source: model.SourceFace})
	}

	kv.failNextGet()
	h.Remove(ctx, "unknown-id")
	if got := len(h.List(ctx)); got != 50 {
		t.Fatalf("expected 50 records after remove during read failure, got %d", got)
	}

	kv.failNextGet()
	rec := h.Append(ctx, NewRecord{Emotion: "happy", Confidence: "90%", Source: model.SourceFace})
	if rec.ID == "" {
		t.Error("expected record to be returned when the read fails")
	}
	list := h.List(ctx)
	if len(list) != 50 {
		t.Fatalf("expected 50 records after append during read failure, got %d", len(list))
	}
	if list[0].Emotion != "e49" {
		t.Errorf("expected newest record e49 untouched, got %s", list[0].Emotion)
	}

	kv.failNextGet()
	if _, err := h.Import(ctx, []model.EmotionRecord{{Emotion: "sad", Source: model.SourceText}}); err == nil {
		t.Error("expected import to fail when the read fails")
	}
	kv.failNextGet()
	if _, err := h.Export(ctx); err == nil {
		t.Error("expected export to fail when the read fails")
	}
	if got := len(h.List(ctx)); got != 50 {
		t.Errorf("expected 50 records, got %d", got)
	}
}

func TestConcurrentAppendKeepsEveryRecord(t *testing.T) {
	for _, n := range []int{40, MaxRecords + 30} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ctx := context.Background()
			h, _ := newTestHistory(t)

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					h.Append(ctx, NewRecord{Emotion: fmt.Sprintf("e%d", i), Source: model.SourceFace})
				}(i)
			}
			wg.Wait()

			list := h.List(ctx)
			want := min(n, MaxRecords)
			if len(list) != want {
				t.Fatalf("expected %d records, got %d", want, len(list))
			}
			seen := map[string]bool{}
			for _, r := range list {
				if seen[r.ID] {
					t.Fatalf("duplicate id %s", r.ID)
				}
				seen[r.ID] = true
			}
		})
	}
}

func TestTextRecordTruncatesInput(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHistory(t)

	long := strings.Repeat("é", MaxInputText+20)
	rec := h.Append(ctx, NewRecord{Emotion: "joy", Source: model.SourceText, InputText: long})
	if n := len([]rune(rec.InputText)); n != MaxInputText {
		t.Errorf("expected %d runes, got %d", MaxInputText, n)
	}

	face := h.Append(ctx, NewRecord{Emotion: "joy", Source: model.SourceFace, InputText: "ignored"})
	if face.InputText != "" {
		t.Errorf("expected no input text on face record, got %q", face.InputText)
	}
}

func TestByDateAndRecent(t *testing.T) {
	ctx := context.Background()
	h, kv := newTestHistory(t)

	old := fixedNow.AddDate(0, 0, -10).Format(DateLayout)
	weekAgo := fixedNow.AddDate(0, 0, -7).Format(DateLayout)
	sixDaysAgo := fixedNow.AddDate(0, 0, -6).Format(DateLayout)
	yesterday := fixedNow.AddDate(0, 0, -1).Format(DateLayout)
	seed := `[
		{"id":"3","emotion":"happy","confidence":"90%","source":"face","timestamp":"10:00:00","date":"` + fixedNow.Format(DateLayout) + `"},
		{"id":"2","emotion":"sad","confidence":"60%","source":"text","timestamp":"09:00:00","date":"` + yesterday + `"},
		{"id":"2b","emotion":"joy","confidence":"60%","source":"text","timestamp":"09:00:00","date":"` + sixDaysAgo + `"},
		{"id":"1b","emotion":"joy","confidence":"60%","source":"text","timestamp":"09:00:00","date":"` + weekAgo + `"},
		{"id":"1","emotion":"fear","confidence":"40%","source":"face","timestamp":"08:00:00","date":"` + old + `"}
	]`
	kv.Set(ctx, store.HistoryKey, seed)

	if got := h.ByDate(ctx, yesterday); len(got) != 1 || got[0].ID != "2" {
		t.Errorf("expected record 2 for %s, got %+v", yesterday, got)
	}

	// 7 days before 14:30 today excludes the date a week ago
	recent := h.Recent(ctx, 7)
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent records, got %d", len(recent))
	}
	if recent[0].ID != "3" || recent[1].ID != "2" || recent[2].ID != "2b" {
		t.Errorf("unexpected recent records: %+v", recent)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHistory(t)

	h.Append(ctx, NewRecord{Emotion: "happy", Confidence: "80%", Source: model.SourceFace})
	data, err := h.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(string(data), `"emotion": "happy"`) {
		t.Errorf("unexpected export: %s", data)
	}

	existing := h.List(ctx)
	n, err := h.Import(ctx, []model.EmotionRecord{
		existing[0], // duplicate id, skipped
		{ID: "legacy-1", Emotion: "sad", Confidence: "55%", Source: model.SourceText, Timestamp: "08:00:00", Date: "2026-10-15"},
		{Emotion: "angry", Confidence: "70%", Source: model.SourceFace},
		{ID: "bad", Emotion: "fear", Source: "audio"}, // unknown source
		{ID: "empty", Source: model.SourceFace},        // no emotion
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported, got %d", n)
	}

	list := h.List(ctx)
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	if list[2].ID != "legacy-1" {
		t.Errorf("expected older record last, got %+v", list[2])
	}
	if list[1].Emotion != "angry" || list[1].ID == "" || list[1].Date != "2026-10-17" {
		t.Errorf("expected imported record with assigned id and date, got %+v", list[1])
	}
}
