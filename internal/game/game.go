// Package game runs the timed expression challenge: each round shows a
// target emotion, captures a frame when the round ends and scores the
// classifier's verdict.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcliao/emotion-lens/internal/capture"
	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/emotion"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/model"
	"github.com/rcliao/emotion-lens/internal/sched"
	"github.com/rcliao/emotion-lens/internal/store"
)

// Phase is a state of the session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCountdown Phase = "countdown"
	PhasePlaying   Phase = "playing"
	PhaseChecking  Phase = "checking"
	PhaseResult    Phase = "result"
	PhaseGameOver  Phase = "gameover"
)

// Defaults.
const (
	DefaultRounds     = 5
	DefaultCountdown  = 3
	DefaultRoundTime  = 5
	DefaultTick       = time.Second
	DefaultResultHold = 2 * time.Second
	DefaultBase       = 100
	DefaultBonus      = 10
)

var (
	ErrInProgress = errors.New("game in progress")
	ErrNotPlaying = errors.New("round is not accepting submissions")
	ErrClosed     = errors.New("session closed")
)

// Options configures a Session. Camera, Classifier, Store and Scheduler are
// required; zero numeric fields take the defaults.
type Options struct {
	Camera     capture.Camera
	Classifier classifier.FaceClassifier
	Store      store.Store
	Scheduler  sched.Scheduler

	History  *history.History
	Rand     *rand.Rand
	Logger   *zerolog.Logger
	OnChange func(State)

	Rounds     int
	Countdown  int
	RoundTime  int
	Tick       time.Duration
	ResultHold time.Duration
	Base       int
	Bonus      int
	MaxDim     int
}

// State is a snapshot of a session.
type State struct {
	SessionID    string            `json:"sessionId"`
	Phase        Phase             `json:"phase"`
	Round        int               `json:"round"`
	MaxRounds    int               `json:"maxRounds"`
	Score        int               `json:"score"`
	Countdown    int               `json:"countdown"`
	TimeLeft     int               `json:"timeLeft"`
	Challenge    emotion.Challenge `json:"challenge"`
	Detected     string            `json:"detected"`
	Confidence   float64           `json:"confidence"`
	Correct      bool              `json:"correct"`
	LastPoints   int               `json:"lastPoints"`
	HighScore    int               `json:"highScore"`
	NewHighScore bool              `json:"newHighScore"`
	Error        string            `json:"error,omitempty"`
}

// Session is one player's game. It is safe for concurrent use.
type Session struct {
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	st     State
	gen    uint64
	timer  sched.Timer
	closed bool
}

// New creates an idle session and loads the stored high score.
func New(opts Options) (*Session, error) {
	if opts.Camera == nil || opts.Classifier == nil || opts.Store == nil || opts.Scheduler == nil {
		return nil, fmt.Errorf("game: camera, classifier, store and scheduler are required")
	}
	if opts.Rounds <= 0 {
		opts.Rounds = DefaultRounds
	}
	if opts.Countdown <= 0 {
		opts.Countdown = DefaultCountdown
	}
	if opts.RoundTime <= 0 {
		opts.RoundTime = DefaultRoundTime
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.ResultHold <= 0 {
		opts.ResultHold = DefaultResultHold
	}
	if opts.Base <= 0 {
		opts.Base = DefaultBase
	}
	if opts.Bonus <= 0 {
		opts.Bonus = DefaultBonus
	}
	if opts.MaxDim <= 0 {
		opts.MaxDim = capture.DefaultMaxDim
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:   opts,
		log:    log.With().Str("component", "game").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.st = State{
		Phase:     PhaseIdle,
		MaxRounds: opts.Rounds,
		HighScore: LoadHighScore(ctx, opts.Store),
	}
	return s, nil
}

// LoadHighScore reads the persisted high score. Absent or malformed values
// read as zero.
func LoadHighScore(ctx context.Context, kv store.Store) int {
	v, ok, err := kv.Get(ctx, store.HighScoreKey)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Start begins a new game from idle or gameover.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.st.Phase != PhaseIdle && s.st.Phase != PhaseGameOver {
		s.mu.Unlock()
		return ErrInProgress
	}

	s.st = State{
		SessionID: uuid.NewString(),
		MaxRounds: s.opts.Rounds,
		Round:     1,
		HighScore: s.st.HighScore,
	}
	s.beginRound()
	s.log.Info().Str("session_id", s.st.SessionID).Int("rounds", s.opts.Rounds).Msg("game started")
	st := s.st
	s.mu.Unlock()

	s.notify(st)
	return nil
}

// Restart is Start after a finished game.
func (s *Session) Restart() error {
	return s.Start()
}

// Submit ends the playing window early. The remaining time counts toward
// the bonus.
func (s *Session) Submit() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.st.Phase != PhasePlaying {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	gen, target, st := s.beginCheck()
	s.mu.Unlock()

	s.notify(st)
	s.check(gen, target)
	return nil
}

// Close cancels pending timers and any in-flight classification. Callbacks
// that arrive afterwards are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
}

// beginRound enters countdown with a fresh target. Caller holds mu.
func (s *Session) beginRound() {
	s.st.Phase = PhaseCountdown
	s.st.Countdown = s.opts.Countdown
	s.st.TimeLeft = 0
	s.st.Challenge = emotion.Challenges[s.opts.Rand.Intn(len(emotion.Challenges))]
	s.st.Detected = ""
	s.st.Confidence = 0
	s.st.Correct = false
	s.st.LastPoints = 0
	s.st.Error = ""
	s.schedule(s.opts.Tick, s.countdownTick)
}

// schedule arms the single pending timer; any earlier one is invalidated.
// Caller holds mu.
func (s *Session) schedule(d time.Duration, step func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.opts.Scheduler.AfterFunc(d, func() { s.fire(gen, step) })
}

// fire runs step under mu unless the timer has been superseded.
func (s *Session) fire(gen uint64, step func()) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	step()
	st := s.st
	checkGen, checking := s.gen, s.st.Phase == PhaseChecking
	target := s.st.Challenge
	s.mu.Unlock()

	s.notify(st)
	if checking {
		s.check(checkGen, target)
	}
}

func (s *Session) countdownTick() {
	s.st.Countdown--
	if s.st.Countdown > 0 {
		s.schedule(s.opts.Tick, s.countdownTick)
		return
	}
	s.st.Countdown = 0
	s.st.Phase = PhasePlaying
	s.st.TimeLeft = s.opts.RoundTime
	s.schedule(s.opts.Tick, s.playTick)
}

func (s *Session) playTick() {
	s.st.TimeLeft--
	if s.st.TimeLeft > 0 {
		s.schedule(s.opts.Tick, s.playTick)
		return
	}
	s.st.TimeLeft = 0
	s.beginCheck()
}

// beginCheck leaves playing. The phase change is what keeps a second
// classification from starting. Caller holds mu.
func (s *Session) beginCheck() (uint64, emotion.Challenge, State) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.st.Phase = PhaseChecking
	return s.gen, s.st.Challenge, s.st
}

// check captures and classifies one frame without holding mu, then moves
// to result. Any failure scores the round as incorrect.
func (s *Session) check(gen uint64, target emotion.Challenge) {
	face, err := s.detect()
	if err != nil {
		s.log.Warn().Err(err).Msg("round detection failed")
	}

	s.mu.Lock()
	if s.closed || gen != s.gen || s.st.Phase != PhaseChecking {
		s.mu.Unlock()
		return
	}
	s.st.Phase = PhaseResult
	s.st.Detected = face.Emotion
	s.st.Confidence = face.Confidence
	s.st.Correct = target.Matches(face.Emotion)
	s.st.LastPoints = 0
	if err != nil {
		s.st.Error = err.Error()
	}
	if s.st.Correct {
		s.st.LastPoints = s.opts.Base + s.st.TimeLeft*s.opts.Bonus
		s.st.Score += s.st.LastPoints
	}
	s.log.Debug().
		Int("round", s.st.Round).
		Str("target", target.Name).
		Str("detected", face.Emotion).
		Bool("correct", s.st.Correct).
		Int("points", s.st.LastPoints).
		Msg("round scored")
	s.schedule(s.opts.ResultHold, s.afterResult)
	st := s.st
	s.mu.Unlock()

	if face.Emotion != "" && s.opts.History != nil {
		s.opts.History.Append(s.ctx, history.NewRecord{
			Emotion:    face.Emotion,
			Confidence: classifier.FormatConfidence(face.Confidence),
			Source:     model.SourceFace,
		})
	}
	s.notify(st)
}

func (s *Session) detect() (classifier.Face, error) {
	frame, err := s.opts.Camera.Capture(s.ctx)
	if err != nil {
		return classifier.Face{}, fmt.Errorf("capture: %w", err)
	}
	jpeg, err := capture.NormalizeJPEG(frame, s.opts.MaxDim)
	if err != nil {
		return classifier.Face{}, fmt.Errorf("normalize frame: %w", err)
	}
	res, err := s.opts.Classifier.DetectFace(s.ctx, jpeg)
	if err != nil {
		return classifier.Face{}, err
	}
	face, _ := res.First()
	return face, nil
}

func (s *Session) afterResult() {
	if s.st.Round < s.opts.Rounds {
		s.st.Round++
		s.beginRound()
		return
	}

	s.st.Phase = PhaseGameOver
	s.st.Countdown = 0
	s.st.TimeLeft = 0
	if s.st.Score > s.st.HighScore {
		s.st.HighScore = s.st.Score
		s.st.NewHighScore = true
		if err := s.opts.Store.Set(s.ctx, store.HighScoreKey, strconv.Itoa(s.st.Score)); err != nil {
			s.log.Warn().Err(err).Int("score", s.st.Score).Msg("high score not persisted")
		}
	}
	s.log.Info().
		Str("session_id", s.st.SessionID).
		Int("score", s.st.Score).
		Bool("new_high_score", s.st.NewHighScore).
		Msg("game over")
}

func (s *Session) notify(st State) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(st)
	}
}
