package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
	HealthTimeout  = 5 * time.Second

	pathFace       = "/vision/detect-emotion"
	pathText       = "/api/analyze-text"
	pathAudio      = "/api/analyze-audio"
	pathMultimodal = "/api/analyze-multimodal"
	pathHealth     = "/health"
)

// HTTPClient is the client for the inference backend.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
}

// NewHTTPClient creates a client for the backend at baseURL. Zero values
// select DefaultBaseURL and DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

// BaseURL returns the backend address.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// DetectFace sends one JPEG frame to the face model.
func (c *HTTPClient) DetectFace(ctx context.Context, jpeg []byte) (*FaceResult, error) {
	if len(jpeg) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}
	body, contentType, err := multipartBody(nil, "file", "capture.jpg", jpeg)
	if err != nil {
		return nil, err
	}
	resp, err := doRequest[faceResponse](ctx, c, fasthttp.MethodPost, pathFace, contentType, body, c.timeout)
	if err != nil {
		return nil, err
	}
	return resp.normalize(), nil
}

// AnalyzeText classifies text of at most MaxTextRunes characters.
func (c *HTTPClient) AnalyzeText(ctx context.Context, text string) (*TextResult, error) {
	text, err := ValidateText(text)
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	resp, err := doRequest[textResponse](ctx, c, fasthttp.MethodPost, pathText, "application/json", body, c.timeout)
	if err != nil {
		return nil, err
	}
	return resp.normalize()
}

// AnalyzeAudio classifies a CSV of audio features.
func (c *HTTPClient) AnalyzeAudio(ctx context.Context, name string, csv []byte) (*TextResult, error) {
	if err := ValidateCSV(name, csv); err != nil {
		return nil, err
	}
	body, contentType, err := multipartBody(nil, "file", name, csv)
	if err != nil {
		return nil, err
	}
	resp, err := doRequest[textResponse](ctx, c, fasthttp.MethodPost, pathAudio, contentType, body, c.timeout)
	if err != nil {
		return nil, err
	}
	return resp.normalize()
}

// AnalyzeMultimodal classifies text together with a CSV of audio features.
func (c *HTTPClient) AnalyzeMultimodal(ctx context.Context, text, name string, csv []byte) (*TextResult, error) {
	text, err := ValidateText(text)
	if err != nil {
		return nil, err
	}
	if err := ValidateCSV(name, csv); err != nil {
		return nil, err
	}
	body, contentType, err := multipartBody(map[string]string{"text": text}, "file", name, csv)
	if err != nil {
		return nil, err
	}
	resp, err := doRequest[textResponse](ctx, c, fasthttp.MethodPost, pathMultimodal, contentType, body, c.timeout)
	if err != nil {
		return nil, err
	}
	return resp.normalize()
}

// Health reports whether the backend answers its health endpoint.
func (c *HTTPClient) Health(ctx context.Context) (map[string]any, error) {
	resp, err := doRequest[map[string]any](ctx, c, fasthttp.MethodGet, pathHealth, "", nil, HealthTimeout)
	if err != nil {
		return nil, err
	}
	return *resp, nil
}

func doRequest[T any](ctx context.Context, c *HTTPClient, method, path, contentType string, body []byte, timeout time.Duration) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// fasthttp ignores contexts; the request runs in its own goroutine so a
	// cancelled ctx returns at once. req and resp are released only after
	// DoDeadline is done with them.
	done := make(chan error, 1)
	go func() {
		done <- c.client.DoDeadline(req, resp, deadline)
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-done
			release()
		}()
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, ctx.Err())
	case err := <-done:
		defer release()
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
		}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode()}
		var e errorResponse
		if json.Unmarshal(resp.Body(), &e) == nil {
			apiErr.Detail = e.Detail
		}
		return nil, apiErr
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &result, nil
}

func multipartBody(fields map[string]string, fileField, fileName string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
