// Package emotion holds the emotion vocabulary shared by the game, the
// classifier normalization and the CLI output.
package emotion

import "strings"

// Challenge is a target expression in the game.
type Challenge struct {
	Name    string   `json:"name"`
	Emoji   string   `json:"emoji"`
	Aliases []string `json:"aliases"`
}

// Matches reports whether a detected label is one of the challenge's aliases.
func (c Challenge) Matches(label string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return false
	}
	for _, a := range c.Aliases {
		if a == label {
			return true
		}
	}
	return false
}

// Challenges are the targets the game draws from.
var Challenges = []Challenge{
	{Name: "Senang", Emoji: "😊", Aliases: []string{"happy", "senang"}},
	{Name: "Marah", Emoji: "😠", Aliases: []string{"angry", "marah"}},
	{Name: "Sedih", Emoji: "😢", Aliases: []string{"sad", "sedih"}},
	{Name: "Terkejut", Emoji: "😲", Aliases: []string{"surprise", "terkejut"}},
	{Name: "Takut", Emoji: "😨", Aliases: []string{"fear", "takut"}},
	{Name: "Netral", Emoji: "😐", Aliases: []string{"neutral", "netral"}},
}

// ScoreLabels is the class order of the face model's score vector.
var ScoreLabels = []string{"Marah", "Jijik", "Takut", "Senang", "Netral", "Sedih", "Terkejut"}

var labels = map[string]string{
	"joy":       "Senang",
	"happy":     "Senang",
	"happiness": "Senang",
	"senang":    "Senang",
	"angry":     "Marah",
	"anger":     "Marah",
	"marah":     "Marah",
	"sad":       "Sedih",
	"sadness":   "Sedih",
	"sedih":     "Sedih",
	"surprise":  "Terkejut",
	"surprised": "Terkejut",
	"terkejut":  "Terkejut",
	"fear":      "Takut",
	"scared":    "Takut",
	"takut":     "Takut",
	"disgust":   "Jijik",
	"disgusted": "Jijik",
	"jijik":     "Jijik",
	"neutral":   "Netral",
	"netral":    "Netral",
}

var emojis = map[string]string{
	"Senang":   "😊",
	"Marah":    "😠",
	"Sedih":    "😢",
	"Terkejut": "😲",
	"Takut":    "😨",
	"Jijik":    "🤢",
	"Netral":   "😐",
}

// Normalize maps a backend label to its display name. Unknown labels are
// returned unchanged.
func Normalize(label string) string {
	if n, ok := labels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return n
	}
	return label
}

// Emoji returns the emoji for a label, or the neutral face when unknown.
func Emoji(label string) string {
	if e, ok := emojis[Normalize(label)]; ok {
		return e
	}
	return emojis["Netral"]
}

// Scores pairs a score vector with ScoreLabels. It returns nil when the
// vector does not have one score per label.
func Scores(v []float64) map[string]float64 {
	if len(v) != len(ScoreLabels) {
		return nil
	}
	out := make(map[string]float64, len(v))
	for i, s := range v {
		out[ScoreLabels[i]] = s
	}
	return out
}
