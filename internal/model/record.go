// Package model defines the core emotion history data types.
package model

import "encoding/json"

// Source is the modality an observation came from.
type Source string

const (
	SourceFace Source = "face"
	SourceText Source = "text"
)

// ValidSources are the allowed record sources.
var ValidSources = map[Source]bool{
	SourceFace: true,
	SourceText: true,
}

// EmotionRecord is one observed classification event.
type EmotionRecord struct {
	ID         string `json:"id"`
	Emotion    string `json:"emotion"`
	Confidence string `json:"confidence"`
	Source     Source `json:"source"`
	Timestamp  string `json:"timestamp"`
	Date       string `json:"date"`
	InputText  string `json:"inputText,omitempty"`
}

// EmotionStats is a snapshot derived from a set of records.
type EmotionStats struct {
	TotalRecords      int            `json:"totalRecords"`
	EmotionCounts     map[string]int `json:"emotionCounts"`
	DominantEmotion   string         `json:"dominantEmotion"`
	AverageConfidence int            `json:"averageConfidence"`
	LastUpdated       string         `json:"lastUpdated"`
}

// TrendBucket counts emotions observed on one calendar day.
type TrendBucket struct {
	Date   string         `json:"-"`
	Label  string         `json:"-"`
	Counts map[string]int `json:"-"`
}

// MarshalJSON flattens the bucket into the chart shape {"date": label, "<emotion>": n}.
func (b TrendBucket) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Counts)+1)
	for k, n := range b.Counts {
		out[k] = n
	}
	out["date"] = b.Label
	return json.Marshal(out)
}
