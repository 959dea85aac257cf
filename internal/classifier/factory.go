package classifier

import (
	"fmt"
	"time"
)

// Text providers.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// Options selects and configures the classifiers.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	TextProvider  string // "http" (default) | "openai"
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
}

// Set is the classifiers an application works with. Face, audio and
// multimodal analysis always go to the backend; text may go elsewhere.
type Set struct {
	Backend *HTTPClient
	Text    TextClassifier
}

// New builds a Set from opts.
func New(opts Options) (*Set, error) {
	backend := NewHTTPClient(opts.BaseURL, opts.Timeout)
	set := &Set{Backend: backend, Text: backend}

	switch opts.TextProvider {
	case "", ProviderHTTP:
	case ProviderOpenAI:
		text, err := NewOpenAIText(opts.OpenAIBaseURL, opts.OpenAIAPIKey, opts.OpenAIModel, opts.Timeout)
		if err != nil {
			return nil, err
		}
		set.Text = text
	default:
		return nil, fmt.Errorf("unknown text provider %q (want %s or %s)", opts.TextProvider, ProviderHTTP, ProviderOpenAI)
	}
	return set, nil
}
