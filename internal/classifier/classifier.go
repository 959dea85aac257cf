// Package classifier talks to the external emotion inference backend and
// normalizes its loosely typed responses at the boundary.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/emotion-lens/internal/emotion"
)

// MaxTextRunes is the longest text accepted for analysis.
const MaxTextRunes = 500

var (
	// ErrInvalidInput is returned before any network call for input the
	// backend would reject.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable wraps connectivity failures and timeouts. Callers may retry.
	ErrUnavailable = errors.New("classifier unavailable")
)

// APIError is a non-200 answer from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("classifier error %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("classifier error %d", e.Status)
}

// FaceClassifier classifies a single JPEG frame.
type FaceClassifier interface {
	DetectFace(ctx context.Context, jpeg []byte) (*FaceResult, error)
}

// TextClassifier classifies a piece of text.
type TextClassifier interface {
	AnalyzeText(ctx context.Context, text string) (*TextResult, error)
}

// Region is a face bounding box in frame pixels.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Face is one detected face.
type Face struct {
	Emotion    string             `json:"emotion"`
	Confidence float64            `json:"confidence"` // 0..1
	Region     *Region            `json:"region,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// FaceResult is a normalized face detection answer. No faces is a valid
// outcome, not an error.
type FaceResult struct {
	Faces []Face `json:"faces"`
}

// First returns the first detected face, if any.
func (r *FaceResult) First() (Face, bool) {
	if r == nil || len(r.Faces) == 0 {
		return Face{}, false
	}
	return r.Faces[0], true
}

// TextResult is a normalized text (or audio/multimodal) analysis answer.
type TextResult struct {
	Emotion    string             `json:"emotion"`
	Confidence float64            `json:"confidence"` // 0..1
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// FormatConfidence renders a 0..1 confidence as "85.5%".
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.1f%%", clamp01(c)*100)
}

// ValidateText rejects text the backend would not accept.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > MaxTextRunes {
		return "", fmt.Errorf("%w: text is %d characters, max %d", ErrInvalidInput, n, MaxTextRunes)
	}
	return text, nil
}

// ValidateCSV rejects uploads that are not CSV files.
func ValidateCSV(name string, data []byte) error {
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return fmt.Errorf("%w: %s is not a CSV file", ErrInvalidInput, name)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidInput, name)
	}
	return nil
}

// --- wire schemas ---

type faceResponse struct {
	Success bool       `json:"success"`
	Faces   []wireFace `json:"faces"`
}

type wireFace struct {
	Emotion    string      `json:"emotion"`
	Confidence float64     `json:"confidence"`
	Region     *wireRegion `json:"region"`
	AllScores  []float64   `json:"all_scores"`
}

type wireRegion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type textResponse struct {
	Emotion         string                     `json:"emotion"`
	Confidence      json.RawMessage            `json:"confidence"`
	SentimentScores map[string]json.RawMessage `json:"sentiment_scores"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (r *faceResponse) normalize() *FaceResult {
	out := &FaceResult{Faces: []Face{}}
	if !r.Success {
		return out
	}
	for _, f := range r.Faces {
		label := strings.TrimSpace(f.Emotion)
		if label == "" {
			continue
		}
		face := Face{
			Emotion:    label,
			Confidence: clamp01(f.Confidence),
			Scores:     emotion.Scores(f.AllScores),
		}
		if f.Region != nil && f.Region.W > 0 && f.Region.H > 0 {
			face.Region = &Region{X: f.Region.X, Y: f.Region.Y, Width: f.Region.W, Height: f.Region.H}
		}
		out.Faces = append(out.Faces, face)
	}
	return out
}

func (r *textResponse) normalize() (*TextResult, error) {
	label := strings.TrimSpace(r.Emotion)
	if label == "" {
		return nil, fmt.Errorf("classifier response has no emotion")
	}
	out := &TextResult{
		Emotion:    label,
		Confidence: parseConfidence(r.Confidence),
	}
	for k, raw := range r.SentimentScores {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if out.Scores == nil {
			out.Scores = make(map[string]float64)
		}
		out.Scores[strings.ReplaceAll(k, "_", " ")] = v
	}
	return out, nil
}

// parseConfidence accepts 0.855, 85.5, "85.5%" or "0.855" and returns 0..1.
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		s = strings.TrimSpace(s)
		percent := strings.HasSuffix(s, "%")
		if _, err := fmt.Sscanf(strings.TrimSuffix(s, "%"), "%g", &v); err != nil {
			return 0
		}
		if percent {
			v /= 100
		}
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
