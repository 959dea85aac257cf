package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"

	openAIMaxRetries = 2
)

const textSystemPrompt = `You are an emotion classifier.
Classify the dominant emotion of the user's text as one of: joy, sadness, anger, fear, surprise, disgust, neutral.
Return ONLY a JSON object like:
{"emotion": "joy", "confidence": 0.92, "scores": {"joy": 0.92, "sadness": 0.02}}`

// OpenAIText classifies text with an OpenAI-compatible chat model.
type OpenAIText struct {
	client openaigo.Client
	model  string
}

// NewOpenAIText creates a text classifier for an OpenAI-compatible API.
func NewOpenAIText(baseURL, apiKey, model string, timeout time.Duration) (*OpenAIText, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai text classifier: api key is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := openaigo.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(openAIMaxRetries),
		option.WithRequestTimeout(timeout),
	)
	return &OpenAIText{client: client, model: model}, nil
}

// AnalyzeText asks the model for a JSON verdict and normalizes it.
func (o *OpenAIText) AnalyzeText(ctx context.Context, text string) (*TextResult, error) {
	text, err := ValidateText(text)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(o.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(textSystemPrompt),
			openaigo.UserMessage(text),
		},
	})
	if err != nil {
		var apiErr *openaigo.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{Status: apiErr.StatusCode, Detail: apiErr.Message}
		}
		return nil, fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned empty choices")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

type verdict struct {
	Emotion    string                     `json:"emotion"`
	Confidence json.RawMessage            `json:"confidence"`
	Scores     map[string]json.RawMessage `json:"scores"`
}

func parseVerdict(content string) (*TextResult, error) {
	raw := extractJSON(content)
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("openai verdict invalid json: %w (raw=%s)", err, raw)
	}
	tr := textResponse{Emotion: v.Emotion, Confidence: v.Confidence, SentimentScores: v.Scores}
	return tr.normalize()
}

// extractJSON strips code fences and prose around a JSON object.
func extractJSON(s string) string {
	raw := strings.TrimSpace(s)
	if strings.HasPrefix(raw, "```") {
		rest := strings.TrimSpace(strings.TrimPrefix(raw, "```"))
		if i := strings.Index(rest, "\n"); i >= 0 {
			rest = rest[i+1:]
		}
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		raw = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(raw, "{") {
		if i := strings.Index(raw, "{"); i >= 0 {
			if j := strings.LastIndex(raw, "}"); j > i {
				return raw[i : j+1]
			}
		}
	}
	return raw
}
