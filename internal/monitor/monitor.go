// Package monitor runs the live camera analyzer: a periodic capture and
// classify loop that records every detection and summarizes the session.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/emotion-lens/internal/capture"
	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/model"
)

// DefaultInterval is the time between captures.
const DefaultInterval = time.Second

// Options configures a Monitor. Camera and Classifier are required.
type Options struct {
	Camera     capture.Camera
	Classifier classifier.FaceClassifier
	History    *history.History
	Interval   time.Duration
	MaxDim     int
	Logger     *zerolog.Logger

	// OnFrame is called after every cycle with the detected face, if any,
	// and the cycle's error.
	OnFrame func(face classifier.Face, found bool, err error)
}

// Summary describes a monitoring session.
type Summary struct {
	Started  time.Time          `json:"started"`
	Elapsed  time.Duration      `json:"elapsed"`
	Frames   int                `json:"frames"`
	Failures int                `json:"failures"`
	Current  string             `json:"current"`
	Stats    model.EmotionStats `json:"stats"`
}

// Monitor runs one live session.
type Monitor struct {
	opts Options
	log  zerolog.Logger
	now  func() time.Time
	busy atomic.Bool

	mu         sync.Mutex
	summary    Summary
	detections []model.EmotionRecord // newest first
}

// New creates a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Camera == nil || opts.Classifier == nil {
		return nil, fmt.Errorf("monitor: camera and classifier are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxDim <= 0 {
		opts.MaxDim = capture.DefaultMaxDim
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Monitor{
		opts: opts,
		log:  log.With().Str("component", "monitor").Logger(),
		now:  time.Now,
	}, nil
}

// Run captures once per interval until ctx is done and returns the session
// summary. Failures are logged and the loop continues. A slow cycle makes
// the ticker drop ticks, so at most one classification is in flight.
func (m *Monitor) Run(ctx context.Context) Summary {
	m.mu.Lock()
	m.summary = Summary{Started: m.now()}
	m.detections = nil
	m.mu.Unlock()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			return m.Summary()
		case <-ticker.C:
			m.Once(ctx)
		}
	}
}

// Once runs a single capture and classify cycle. It reports false without
// classifying when another cycle is still running or ctx is done.
func (m *Monitor) Once(ctx context.Context) bool {
	if !m.busy.CompareAndSwap(false, true) {
		return false
	}
	defer m.busy.Store(false)

	face, found, err := m.detect(ctx)
	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	if m.summary.Started.IsZero() {
		m.summary.Started = m.now()
	}
	m.summary.Frames++
	if err != nil {
		m.summary.Failures++
	}
	if found {
		m.summary.Current = face.Emotion
		rec := model.EmotionRecord{
			Emotion:    face.Emotion,
			Confidence: classifier.FormatConfidence(face.Confidence),
			Source:     model.SourceFace,
			Timestamp:  m.now().Format(history.TimeLayout),
		}
		m.detections = append([]model.EmotionRecord{rec}, m.detections...)
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn().Err(err).Msg("live detection failed")
	}
	if found && m.opts.History != nil {
		m.opts.History.Append(ctx, history.NewRecord{
			Emotion:    face.Emotion,
			Confidence: classifier.FormatConfidence(face.Confidence),
			Source:     model.SourceFace,
		})
	}
	if m.opts.OnFrame != nil {
		m.opts.OnFrame(face, found, err)
	}
	return true
}

// Summary returns the session summary so far.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.summary
	if !s.Started.IsZero() {
		s.Elapsed = m.now().Sub(s.Started)
	}
	s.Stats = history.ComputeStats(m.detections)
	return s
}

func (m *Monitor) detect(ctx context.Context) (classifier.Face, bool, error) {
	frame, err := m.opts.Camera.Capture(ctx)
	if err != nil {
		return classifier.Face{}, false, fmt.Errorf("capture: %w", err)
	}
	jpeg, err := capture.NormalizeJPEG(frame, m.opts.MaxDim)
	if err != nil {
		return classifier.Face{}, false, fmt.Errorf("normalize frame: %w", err)
	}
	res, err := m.opts.Classifier.DetectFace(ctx, jpeg)
	if err != nil {
		return classifier.Face{}, false, err
	}
	face, ok := res.First()
	return face, ok, nil
}
