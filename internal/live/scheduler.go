package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/dualscribe/internal/aec"
	"github.com/skypro1111/dualscribe/internal/audio"
	"github.com/skypro1111/dualscribe/internal/events"
	"github.com/skypro1111/dualscribe/internal/metrics"
	"github.com/skypro1111/dualscribe/internal/reporting"
	"github.com/skypro1111/dualscribe/internal/store"
	"github.com/skypro1111/dualscribe/internal/transcript"
	"github.com/skypro1111/dualscribe/internal/transcription"
	"github.com/skypro1111/dualscribe/internal/vad"
)

var (
	// ErrAlreadyTranscribing is returned by Start while a session is running
	ErrAlreadyTranscribing = errors.New("live transcription already running")
	// ErrNotRunning is returned by Tick when no session is active
	ErrNotRunning = errors.New("live transcription not running")
)

// Capture is a source of captured audio, drained once per tick
type Capture interface {
	Drain() audio.Clip
	Format() (sampleRate, channels int)
}

// Recording reports whether the capture session that feeds the buffers is still active
type Recording interface {
	IsRecording() bool
}

// RecordingFunc adapts a function to the Recording interface
type RecordingFunc func() bool

// IsRecording calls f
func (f RecordingFunc) IsRecording() bool {
	return f()
}

// EventSink receives incremental transcript updates. Delivery is best effort.
type EventSink interface {
	PublishUpdate(update events.Update)
}

// Config contains scheduler configuration
type Config struct {
	Interval   time.Duration // Time between ticks
	SampleRate int           // Operating rate for echo cancellation and recognition
	MaxDelayMs int           // Longest echo path the canceller covers
	StepSize   float64       // NLMS base step size

	VADEnabled       bool
	VADThreshold     float32
	VADWindow        int
	MinSpeechWindows int

	Language string // Reported in the final result

	// How long after Start the loop ignores a Recording that reports false,
	// so capture has time to deliver its first audio
	RecordingGrace time.Duration
}

// DefaultInterval is the tick interval used when none is configured
const DefaultInterval = 5 * time.Second

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SampleRate <= 0 {
		c.SampleRate = transcription.OperatingSampleRate
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = aec.DefaultMaxDelayMs
	}
	if c.StepSize <= 0 {
		c.StepSize = aec.DefaultStepSize
	}
	if c.VADWindow <= 0 {
		c.VADWindow = c.SampleRate / 50 // 20ms
	}
	return c
}

// Deps are the collaborators a Scheduler works with.
// Only Mic, System and Recognizer are required.
type Deps struct {
	Mic        Capture
	System     Capture
	Recognizer transcription.Recognizer
	Store      store.Store
	Events     EventSink
	Metrics    *metrics.Metrics
	Reporter   *reporting.Reporter
	Recording  Recording
	Logger     *slog.Logger
}

// Session is the state of one live transcription session
type Session struct {
	ID           string
	StartedAt    time.Time
	MicOffset    float64 // Seconds into the mic timeline covered so far
	SystemOffset float64 // Seconds into the system timeline covered so far
	Segments     []transcript.Segment

	// System segments seen so far, for echo suppression of later mic segments
	systemSegments []transcript.Segment
}

// Result is returned when a session stops
type Result struct {
	SessionID string               `json:"session_id"`
	Segments  []transcript.Segment `json:"segments"`
	FullText  string               `json:"full_text"`
	Language  string               `json:"language,omitempty"`
}

// Status is a snapshot of the scheduler for monitoring
type Status struct {
	Running             bool      `json:"running"`
	SessionID           string    `json:"session_id,omitempty"`
	StartedAt           time.Time `json:"started_at,omitempty"`
	MicOffset           float64   `json:"mic_offset"`
	SystemOffset        float64   `json:"system_offset"`
	Segments            int       `json:"segments"`
	Ticks               uint64    `json:"ticks"`
	RecognitionFailures uint64    `json:"recognition_failures"`
	SilentBlocks        uint64    `json:"silent_blocks"`
	AEC                 aec.Stats `json:"aec"`

	// Energy gate counters per source, present when the gate is enabled
	VAD map[transcript.Source]vad.ProcessorStats `json:"vad,omitempty"`
}

// Scheduler drives live transcription of the mic and system streams
type Scheduler struct {
	config   Config
	mic      Capture
	system   Capture
	recog    transcription.Recognizer
	store    store.Store
	events   EventSink
	metrics  *metrics.Metrics
	reporter *reporting.Reporter
	recorder Recording
	logger   *slog.Logger

	// Owned by whoever holds tickMu
	engine     *aec.Engine
	window     *aec.ReferenceWindow
	micGate    *vad.Processor
	systemGate *vad.Processor
	tickMu     sync.Mutex

	// Guarded by mu
	running  bool
	session  *Session
	wake     chan struct{}
	loopDone chan struct{}
	ticks    uint64
	failures uint64
	silent   uint64
	aecStats aec.Stats
	mu       sync.Mutex
}

// New creates a scheduler. Missing optional dependencies get inert defaults.
func New(config Config, deps Deps) (*Scheduler, error) {
	if deps.Mic == nil || deps.System == nil {
		return nil, fmt.Errorf("both mic and system captures are required")
	}
	if deps.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}

	config = config.withDefaults()

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(nil)
	}

	s := &Scheduler{
		config:   config,
		mic:      deps.Mic,
		system:   deps.System,
		recog:    deps.Recognizer,
		store:    deps.Store,
		events:   deps.Events,
		metrics:  deps.Metrics,
		reporter: deps.Reporter,
		recorder: deps.Recording,
		logger:   deps.Logger.With(slog.String("component", "live")),
		engine:   aec.NewWithStep(config.SampleRate, config.MaxDelayMs, config.StepSize),
		// Enough reference for the longest block a tick can produce, plus slack
		window: aec.NewReferenceWindow(config.SampleRate * int((config.Interval*2+time.Second)/time.Second)),
	}

	if config.VADEnabled {
		var err error
		s.micGate, err = vad.NewProcessor(config.VADThreshold, config.VADWindow, config.MinSpeechWindows)
		if err != nil {
			return nil, fmt.Errorf("failed to create mic energy gate: %w", err)
		}
		s.systemGate, err = vad.NewProcessor(config.VADThreshold, config.VADWindow, config.MinSpeechWindows)
		if err != nil {
			return nil, fmt.Errorf("failed to create system energy gate: %w", err)
		}
	}

	return s, nil
}

// Start begins a live session. An empty sessionID gets a generated one.
func (s *Scheduler) Start(sessionID string) error {
	// Lock order is tickMu then mu, matching Tick
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyTranscribing
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.engine.Reset()
	s.window.Reset()
	if s.micGate != nil {
		s.micGate.Reset()
		s.systemGate.Reset()
	}

	s.session = &Session{
		ID:        sessionID,
		StartedAt: time.Now(),
	}
	s.running = true
	s.ticks, s.failures, s.silent = 0, 0, 0
	s.aecStats = s.engine.Stats()
	s.wake = make(chan struct{})
	s.loopDone = make(chan struct{})

	go s.run(sessionID, s.session.StartedAt, s.wake, s.loopDone)

	s.metrics.RecordSessionStarted()
	s.logger.Info("Live transcription started",
		slog.String("session_id", sessionID),
		slog.Duration("interval", s.config.Interval),
		slog.Int("filter_length", s.engine.FilterLength()),
		slog.Bool("vad_enabled", s.config.VADEnabled),
	)
	return nil
}

// Stop ends the running session and returns everything it produced.
// It waits for an in-flight tick to finish, or for ctx to expire.
// Calling Stop with no running session returns an empty Result.
func (s *Scheduler) Stop(ctx context.Context) Result {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return Result{}
	}
	s.running = false
	close(s.wake)
	loopDone := s.loopDone
	session := s.session
	s.mu.Unlock()

	select {
	case <-loopDone:
	case <-ctx.Done():
		s.logger.Warn("Stopped without waiting for the in-flight tick",
			slog.String("error", ctx.Err().Error()),
		)
	}

	s.mu.Lock()
	// A Start may have slipped in while we waited; leave its session alone
	if s.session == session {
		s.session = nil
	}
	segments := make([]transcript.Segment, len(session.Segments))
	copy(segments, session.Segments)
	s.mu.Unlock()

	transcript.SortByStart(segments)

	result := Result{
		SessionID: session.ID,
		Segments:  segments,
		FullText:  transcript.FullText(segments),
		Language:  s.config.Language,
	}

	s.publish(events.Update{
		SessionID: session.ID,
		Segments:  segments,
		IsFinal:   true,
	})

	duration := time.Since(session.StartedAt)
	s.metrics.RecordSessionStopped(duration.Seconds())
	s.logger.Info("Live transcription stopped",
		slog.String("session_id", session.ID),
		slog.Duration("duration", duration),
		slog.Int("segments", len(segments)),
		slog.Float64("mic_offset", session.MicOffset),
		slog.Float64("system_offset", session.SystemOffset),
	)

	return result
}

// IsRunning reports whether a session is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:             s.running,
		Ticks:               s.ticks,
		RecognitionFailures: s.failures,
		SilentBlocks:        s.silent,
		AEC:                 s.aecStats,
	}
	if s.micGate != nil {
		status.VAD = map[transcript.Source]vad.ProcessorStats{
			transcript.SourceMic:    s.micGate.GetStats(),
			transcript.SourceSystem: s.systemGate.GetStats(),
		}
	}
	if s.session != nil {
		status.SessionID = s.session.ID
		status.StartedAt = s.session.StartedAt
		status.MicOffset = s.session.MicOffset
		status.SystemOffset = s.session.SystemOffset
		status.Segments = len(s.session.Segments)
	}
	return status
}

// run ticks until the session is stopped or recording ends
func (s *Scheduler) run(sessionID string, startedAt time.Time, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-wake:
			return
		case <-ticker.C:
		}

		if s.recorder != nil && time.Since(startedAt) >= s.config.RecordingGrace && !s.recorder.IsRecording() {
			s.logger.Info("Recording ended, live loop exiting",
				slog.String("session_id", sessionID),
			)
			return
		}

		if err := s.Tick(context.Background()); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Error("Tick failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// streamResult is the outcome of recognizing one stream in a tick
type streamResult struct {
	source   transcript.Source
	segments []transcript.Segment
	err      error
	ran      bool
}

// Tick processes everything captured since the previous tick.
// It is called by the session loop and may be called directly.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	session := s.session
	running := s.running
	var micOffset, systemOffset float64
	if session != nil {
		micOffset, systemOffset = session.MicOffset, session.SystemOffset
	}
	s.mu.Unlock()

	if !running || session == nil {
		return ErrNotRunning
	}

	start := time.Now()
	micClip := s.mic.Drain()
	systemClip := s.system.Drain()
	if len(micClip.Samples) == 0 && len(systemClip.Samples) == 0 {
		return nil
	}

	system := systemClip.Resampled(s.config.SampleRate)
	if len(system) > 0 {
		s.window.Push(system)
	}

	mic := micClip.Resampled(s.config.SampleRate)
	if len(mic) > 0 {
		mic = s.cancelEcho(mic)
	}

	mic = s.gate(session.ID, transcript.SourceMic, s.micGate, mic)
	system = s.gate(session.ID, transcript.SourceSystem, s.systemGate, system)

	micResult := streamResult{source: transcript.SourceMic}
	systemResult := streamResult{source: transcript.SourceSystem}

	// Each goroutine reports its failure through its own result, so one
	// stream failing never cancels the other.
	var g errgroup.Group
	if len(mic) > 0 {
		g.Go(func() error {
			s.recognize(ctx, session.ID, &micResult, mic, micOffset)
			return nil
		})
	}
	if len(system) > 0 {
		g.Go(func() error {
			s.recognize(ctx, session.ID, &systemResult, system, systemOffset)
			return nil
		})
	}
	g.Wait()

	// System first, so mic segments of this tick are checked against system
	// segments of the same tick.
	s.commit(ctx, session, systemResult)
	s.commit(ctx, session, micResult)

	elapsed := time.Since(start)
	s.mu.Lock()
	s.ticks++
	s.aecStats = s.engine.Stats()
	s.mu.Unlock()
	s.metrics.RecordTick(elapsed.Seconds())

	s.logger.Debug("Tick processed",
		slog.String("session_id", session.ID),
		slog.Int("mic_samples", len(mic)),
		slog.Int("system_samples", len(system)),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// cancelEcho removes the system-audio echo from a mic block
func (s *Scheduler) cancelEcho(mic []float32) []float32 {
	reference := s.window.Latest(len(mic))
	if len(reference) == 0 {
		return mic
	}

	out := s.engine.Process(mic, reference)
	s.metrics.RecordAECBlock(s.engine.LastMode().String(), s.engine.EstimatedDelay())
	return out
}

// gate returns nil for blocks the energy gate finds silent
func (s *Scheduler) gate(sessionID string, source transcript.Source, gate *vad.Processor, samples []float32) []float32 {
	if gate == nil || len(samples) == 0 {
		return samples
	}
	if gate.HasVoice(samples) {
		return samples
	}

	s.mu.Lock()
	s.silent++
	s.mu.Unlock()
	s.metrics.RecordSilentBlock(string(source))
	s.logger.Debug("Skipping silent block",
		slog.String("session_id", sessionID),
		slog.String("source", string(source)),
		slog.Int("samples", len(samples)),
	)
	return nil
}

// recognize runs the recognizer for one stream and records the outcome in result
func (s *Scheduler) recognize(ctx context.Context, sessionID string, result *streamResult, samples []float32, offset float64) {
	start := time.Now()
	segments, err := s.recog.Recognize(ctx, samples, offset)
	elapsed := time.Since(start)

	result.ran = true
	result.segments = segments
	result.err = err
	s.metrics.RecordRecognition(string(result.source), elapsed.Seconds(), err != nil)

	if err != nil {
		s.mu.Lock()
		s.failures++
		s.mu.Unlock()

		s.logger.Error("Recognition failed",
			slog.String("session_id", sessionID),
			slog.String("source", string(result.source)),
			slog.Float64("offset", offset),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		s.reporter.Capture(err, map[string]string{
			"session_id": sessionID,
			"source":     string(result.source),
			"stage":      "live_recognition",
		})
	}
}

// commit filters, labels, stores and broadcasts one stream's segments
func (s *Scheduler) commit(ctx context.Context, session *Session, result streamResult) {
	if !result.ran || result.err != nil {
		return
	}

	kept, noise := transcript.DropNoise(result.segments)

	s.mu.Lock()
	if s.session != session {
		// Session was stopped while this tick was recognizing
		s.mu.Unlock()
		return
	}

	if end, ok := transcript.LastEnd(result.segments); ok {
		switch result.source {
		case transcript.SourceMic:
			session.MicOffset = max(session.MicOffset, end)
		case transcript.SourceSystem:
			session.SystemOffset = max(session.SystemOffset, end)
		}
	}

	echoes := 0
	if result.source == transcript.SourceMic {
		kept, echoes = transcript.SuppressEchoes(kept, session.systemSegments)
	}

	labeled := transcript.Label(kept, result.source)
	if result.source == transcript.SourceSystem {
		session.systemSegments = append(session.systemSegments, labeled...)
	}
	session.Segments = append(session.Segments, labeled...)
	s.mu.Unlock()

	s.metrics.RecordSegments(string(result.source), len(labeled), noise, echoes)
	if noise > 0 || echoes > 0 {
		s.logger.Debug("Filtered segments",
			slog.String("session_id", session.ID),
			slog.String("source", string(result.source)),
			slog.Int("noise", noise),
			slog.Int("echoes", echoes),
		)
	}

	if len(labeled) == 0 {
		return
	}

	for _, seg := range labeled {
		if err := s.store.AddSegment(ctx, store.NewSegment(session.ID, seg, store.SourceLive, "")); err != nil {
			s.logger.Error("Failed to persist segment",
				slog.String("session_id", session.ID),
				slog.String("source", string(result.source)),
				slog.Float64("start_time", seg.StartTime),
				slog.String("error", err.Error()),
			)
			s.reporter.Capture(err, map[string]string{
				"session_id": session.ID,
				"source":     string(result.source),
				"stage":      "persist",
			})
		}
	}

	s.publish(events.Update{
		SessionID: session.ID,
		Segments:  labeled,
		Source:    result.source,
	})
}

func (s *Scheduler) publish(update events.Update) {
	if s.events == nil {
		return
	}
	s.events.PublishUpdate(update)
}
