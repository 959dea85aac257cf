package monitor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/store"
)

type stubCamera struct{ frame []byte }

func (c stubCamera) Capture(ctx context.Context) ([]byte, error) { return c.frame, nil }

// scriptedClassifier answers with labels in order; "" means no face and
// "!" an error.
type scriptedClassifier struct {
	mu       sync.Mutex
	script   []string
	i        int
	inflight int
	maxSeen  int
}

func (c *scriptedClassifier) DetectFace(ctx context.Context, jpeg []byte) (*classifier.FaceResult, error) {
	c.mu.Lock()
	c.inflight++
	if c.inflight > c.maxSeen {
		c.maxSeen = c.inflight
	}
	label := "neutral"
	if c.i < len(c.script) {
		label = c.script[c.i]
	}
	c.i++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}()

	switch label {
	case "!":
		return nil, classifier.ErrUnavailable
	case "":
		return &classifier.FaceResult{Faces: []classifier.Face{}}, nil
	}
	return &classifier.FaceResult{Faces: []classifier.Face{{Emotion: label, Confidence: 0.8}}}, nil
}

// gatedClassifier blocks every call until release is closed.
type gatedClassifier struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (c *gatedClassifier) DetectFace(ctx context.Context, jpeg []byte) (*classifier.FaceResult, error) {
	c.calls.Add(1)
	c.entered <- struct{}{}
	<-c.release
	return &classifier.FaceResult{Faces: []classifier.Face{{Emotion: "happy", Confidence: 0.9}}}, nil
}

func testFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOnceRecordsAndSummarizes(t *testing.T) {
	ctx := context.Background()
	h := history.New(store.NewMemoryStore())
	cls := &scriptedClassifier{script: []string{"happy", "!", "", "sad", "happy"}}

	var errs int
	m, err := New(Options{
		Camera:     stubCamera{frame: testFrame(t)},
		Classifier: cls,
		History:    h,
		OnFrame: func(face classifier.Face, found bool, err error) {
			if err != nil {
				errs++
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		m.Once(ctx)
	}

	sum := m.Summary()
	if sum.Frames != 5 || sum.Failures != 1 || errs != 1 {
		t.Errorf("expected 5 frames and 1 failure, got %+v (errs %d)", sum, errs)
	}
	if sum.Current != "happy" {
		t.Errorf("expected current happy, got %q", sum.Current)
	}
	if sum.Stats.TotalRecords != 3 || sum.Stats.EmotionCounts["happy"] != 2 || sum.Stats.DominantEmotion != "Happy" {
		t.Errorf("unexpected stats %+v", sum.Stats)
	}
	if sum.Stats.AverageConfidence != 80 {
		t.Errorf("expected average 80, got %d", sum.Stats.AverageConfidence)
	}

	records := h.List(ctx)
	if len(records) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(records))
	}
	if records[0].Emotion != "happy" || records[1].Emotion != "sad" || records[0].Confidence != "80.0%" {
		t.Errorf("unexpected history %+v", records)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cls := &scriptedClassifier{}
	var mu sync.Mutex
	frames := 0
	m, err := New(Options{
		Camera:     stubCamera{frame: testFrame(t)},
		Classifier: cls,
		Interval:   time.Millisecond,
		OnFrame: func(classifier.Face, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			frames++
			if frames == 3 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan Summary, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case sum := <-done:
		if sum.Frames != 3 {
			t.Errorf("expected 3 frames, got %d", sum.Frames)
		}
		if sum.Stats.DominantEmotion != "Neutral" {
			t.Errorf("expected Neutral, got %q", sum.Stats.DominantEmotion)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	cls.mu.Lock()
	defer cls.mu.Unlock()
	if cls.maxSeen != 1 {
		t.Errorf("expected at most one classification in flight, saw %d", cls.maxSeen)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without camera and classifier")
	}
	_, err := New(Options{Camera: stubCamera{}})
	if err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestOnceSkipsWhileBusy(t *testing.T) {
	ctx := context.Background()
	cls := &gatedClassifier{entered: make(chan struct{}, 4), release: make(chan struct{})}
	m, err := New(Options{Camera: stubCamera{frame: testFrame(t)}, Classifier: cls})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := make(chan bool, 1)
	go func() { first <- m.Once(ctx) }()
	<-cls.entered

	const extra = 5
	var wg sync.WaitGroup
	skipped := make(chan bool, extra)
	for i := 0; i < extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			skipped <- m.Once(ctx)
		}()
	}
	wg.Wait()
	close(skipped)
	for ran := range skipped {
		if ran {
			t.Error("expected concurrent Once to be skipped")
		}
	}

	close(cls.release)
	if !<-first {
		t.Error("expected the first cycle to complete")
	}
	if n := cls.calls.Load(); n != 1 {
		t.Errorf("expected 1 classification, got %d", n)
	}
	if got := m.Summary().Frames; got != 1 {
		t.Errorf("expected 1 frame, got %d", got)
	}

	if !m.Once(ctx) {
		t.Error("expected Once to run again after the first cycle")
	}
}
