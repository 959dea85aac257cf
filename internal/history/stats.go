package history

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rcliao/emotion-lens/internal/model"
)

// Placeholder is shown for the dominant emotion and last update of an empty history.
const Placeholder = "-"

// ComputeStats derives an EmotionStats snapshot from records, which are
// expected newest first.
//
// The dominant emotion is the label with the highest count. Among tied
// labels the one seen first in records wins, i.e. the most recently observed.
// The average confidence covers only records whose confidence parses.
func ComputeStats(records []model.EmotionRecord) model.EmotionStats {
	if len(records) == 0 {
		return model.EmotionStats{
			TotalRecords:      0,
			EmotionCounts:     map[string]int{},
			DominantEmotion:   Placeholder,
			AverageConfidence: 0,
			LastUpdated:       Placeholder,
		}
	}

	counts := make(map[string]int)
	var order []string
	var sum float64
	var parsed int

	for _, r := range records {
		emotion := strings.ToLower(r.Emotion)
		if _, ok := counts[emotion]; !ok {
			order = append(order, emotion)
		}
		counts[emotion]++

		if v, ok := ParseConfidence(r.Confidence); ok {
			sum += v
			parsed++
		}
	}

	dominant := ""
	best := 0
	for _, e := range order {
		if counts[e] > best {
			dominant, best = e, counts[e]
		}
	}
	if dominant == "" {
		dominant = Placeholder
	}

	avg := 0
	if parsed > 0 {
		avg = int(math.Round(sum / float64(parsed)))
	}

	last := records[0].Timestamp
	if last == "" {
		last = Placeholder
	}

	return model.EmotionStats{
		TotalRecords:      len(records),
		EmotionCounts:     counts,
		DominantEmotion:   capitalize(dominant),
		AverageConfidence: avg,
		LastUpdated:       last,
	}
}

// ParseConfidence parses "85.5%", "85.5" or " 85.5 % " into 85.5. Trailing
// text after the number is rejected, so "80abc" does not parse.
func ParseConfidence(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ComputeTrend buckets records per local calendar day for the windowDays days
// ending on now's day, oldest first. Records dated outside the window are
// ignored.
func ComputeTrend(records []model.EmotionRecord, windowDays int, now time.Time) []model.TrendBucket {
	if windowDays <= 0 {
		windowDays = 7
	}

	today := startOfDay(now)
	buckets := make([]model.TrendBucket, windowDays)
	index := make(map[string]int, windowDays)
	for i := 0; i < windowDays; i++ {
		day := today.AddDate(0, 0, i-(windowDays-1))
		date := day.Format(DateLayout)
		buckets[i] = model.TrendBucket{
			Date:   date,
			Label:  day.Format("Mon 2"),
			Counts: map[string]int{},
		}
		index[date] = i
	}

	for _, r := range records {
		if i, ok := index[r.Date]; ok {
			buckets[i].Counts[strings.ToLower(r.Emotion)]++
		}
	}
	return buckets
}

// FilterBySource returns the records from source. An empty source or "all"
// returns records unchanged.
func FilterBySource(records []model.EmotionRecord, source model.Source) []model.EmotionRecord {
	if source == "" || source == "all" {
		return records
	}
	out := []model.EmotionRecord{}
	for _, r := range records {
		if r.Source == source {
			out = append(out, r)
		}
	}
	return out
}

// SourceBreakdown counts records per source.
func SourceBreakdown(records []model.EmotionRecord) map[model.Source]int {
	out := map[model.Source]int{model.SourceFace: 0, model.SourceText: 0}
	for _, r := range records {
		out[r.Source]++
	}
	return out
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
