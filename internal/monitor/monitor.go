// Package monitor runs the continuous wake-word detection pipeline:
// capture, segmentation, transcription, verification, and delivery.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/luxassist/platform/internal/audio"
	"github.com/luxassist/platform/internal/config"
	apperr "github.com/luxassist/platform/internal/errors"
	"github.com/luxassist/platform/internal/gate"
	"github.com/luxassist/platform/internal/phonetic"
	"github.com/luxassist/platform/internal/resilience"
	"github.com/luxassist/platform/internal/segment"
	"github.com/luxassist/platform/internal/syncx"
	"github.com/luxassist/platform/internal/trace"
	"github.com/luxassist/platform/internal/transcribe"
	"github.com/luxassist/platform/internal/vad"
)

// Detection is one accepted wake-word event delivered to callbacks.
type Detection struct {
	UtteranceID string `json:"utterance_id"`
	Transcript  string `json:"transcript"`
	Normalized  string `json:"normalized"`
	// Command is the transcript remainder after the wake word, empty when
	// the utterance was only the wake word.
	Command    string    `json:"command,omitempty"`
	Confidence float64   `json:"confidence"`
	Threshold  float64   `json:"threshold"`
	DetectedAt time.Time `json:"detected_at"`
}

// Callback receives accepted detections on the dispatch worker goroutine.
type Callback func(Detection)

// Stats aggregates pipeline activity since Start.
type Stats struct {
	Started               time.Time `json:"started"`
	FramesProcessed       uint64    `json:"frames_processed"`
	FramesDropped         uint64    `json:"frames_dropped"`
	Utterances            uint64    `json:"utterances"`
	NoSpeech              uint64    `json:"no_speech"`
	TranscriptionFailures uint64    `json:"transcription_failures"`
	Rejected              uint64    `json:"rejected"`
	Suppressed            uint64    `json:"suppressed"`
	Accepted              uint64    `json:"accepted"`
	AmbientNoise          float64   `json:"ambient_noise"`
	LastDetection         time.Time `json:"last_detection,omitempty"`
}

// frameSource abstracts the audio capturer for tests.
type frameSource interface {
	Start(ctx context.Context) error
	Stop()
	Output() <-chan audio.Frame
	Dropped() uint64
}

// transcriber abstracts the transcription gateway for tests.
type transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (transcribe.Transcript, error)
	BreakerState() resilience.State
}

// wordVerifier abstracts the phonetic verifier for tests.
type wordVerifier interface {
	Verify(text string, vctx phonetic.Context) phonetic.Result
}

// Monitor owns the detection pipeline. One segmentation loop consumes
// frames and transcribes finalized utterances inline; one dispatch worker
// invokes callbacks so a slow consumer never blocks audio handling.
type Monitor struct {
	cfg      *config.Config
	source   frameSource
	trans    transcriber
	verifier wordVerifier
	gate     *gate.Gate
	logger   *slog.Logger

	mu        sync.Mutex
	callbacks []Callback

	verification atomic.Bool
	running      atomic.Bool

	detections chan Detection
	stopCh     chan struct{}
	wg         sync.WaitGroup
	baseCtx    context.Context
	cancel     context.CancelFunc

	// now supplies the wall clock for gate admission and the hour used
	// in threshold adjustment. Tests pin it.
	now func() time.Time

	stats *syncx.Guard[Stats]
}

// New wires a monitor from configuration, constructing the capturer,
// verifier, and transcription client.
func New(cfg *config.Config, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table := phonetic.DefaultConfusionTable()
	if cfg.ConfusionTablePath != "" {
		var err error
		table, err = phonetic.LoadConfusionTable(cfg.ConfusionTablePath)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded confusion table", "path", cfg.ConfusionTablePath, "entries", table.Len())
	}

	verifier, err := phonetic.NewVerifier(cfg.WakeWords, cfg.BaseThreshold, table, logger)
	if err != nil {
		return nil, err
	}

	source, err := audio.NewCapturer(cfg.SampleRate, cfg.FrameSamples(), cfg.FrameQueueSize, cfg.InputDevice)
	if err != nil {
		return nil, err
	}

	trans := transcribe.NewClient(cfg.TranscriberURL, cfg.Language, cfg.TranscribeTimeout, logger)

	return newWith(cfg, source, trans, verifier, logger), nil
}

// newWith assembles a monitor from explicit components.
func newWith(cfg *config.Config, source frameSource, trans transcriber, verifier wordVerifier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:      cfg,
		source:   source,
		trans:    trans,
		verifier: verifier,
		gate:     gate.New(cfg.OutputSuppressionWindow, cfg.WakeWordCooldown, logger),
		logger:   logger.With("component", "monitor"),
		now:      time.Now,
		stats:    syncx.NewGuard(Stats{}),
	}
	m.verification.Store(true)
	return m
}

// RegisterCallback adds a detection consumer. Callbacks registered after
// Start still receive subsequent detections.
func (m *Monitor) RegisterCallback(cb Callback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// SetAudioOutputActive informs the pipeline that the assistant is
// producing audio, suppressing detection for the duration plus the
// post-output window.
func (m *Monitor) SetAudioOutputActive(active bool) {
	m.gate.SetOutputActive(active)
}

// SetVerificationEnabled toggles phonetic verification. When disabled, a
// transcript is accepted only if it contains a wake word verbatim after
// normalization.
func (m *Monitor) SetVerificationEnabled(enabled bool) {
	m.verification.Store(enabled)
	m.logger.Info("phonetic verification toggled", "enabled", enabled)
}

// VerificationEnabled reports the current toggle state.
func (m *Monitor) VerificationEnabled() bool {
	return m.verification.Load()
}

// Gate exposes gate state for the stats endpoint.
func (m *Monitor) Gate() gate.Snapshot {
	return m.gate.State()
}

// BreakerState reports the transcription gateway breaker for the stats
// endpoint.
func (m *Monitor) BreakerState() string {
	return m.trans.BreakerState().String()
}

// Start opens the audio device and launches the pipeline goroutines.
// Device open is retried; a device that will not open is terminal.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return apperr.New(apperr.CodeConcurrency, "monitor already running")
	}

	m.baseCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.stopCh = make(chan struct{})
	m.detections = make(chan Detection, detectionQueueSize)
	m.stats.Set(Stats{Started: time.Now()})

	err := resilience.Retry(ctx, resilience.DeviceRetryConfig(), func() error {
		return m.source.Start(m.baseCtx)
	})
	if err != nil {
		m.running.Store(false)
		m.cancel()
		return apperr.Wrap(err, apperr.CodeDevice, "start audio capture")
	}

	m.wg.Add(2)
	go m.runLoop()
	go m.dispatchLoop()

	m.logger.Info("monitor started",
		"wake_words", m.cfg.WakeWords,
		"base_threshold", m.cfg.BaseThreshold,
		"sample_rate", m.cfg.SampleRate)
	return nil
}

// Stop shuts the pipeline down. No callback is invoked after Stop returns.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	close(m.stopCh)
	m.source.Stop()
	m.cancel()
	m.wg.Wait()

	m.logger.Info("monitor stopped")
}

// runLoop is the segmentation loop: it feeds every captured frame through
// the voice activity state machine and handles finalized utterances
// inline, so at most one utterance is ever in flight.
func (m *Monitor) runLoop() {
	defer m.wg.Done()
	defer close(m.detections)

	det := vad.NewEnergy(m.cfg.VADSensitivity)
	seg := segment.New(det, segment.Config{
		FrameDuration: m.cfg.FrameDuration,
		PreRoll:       m.cfg.PreRoll,
		PostSilence:   m.cfg.PostSilence,
		MinUtterance:  m.cfg.MinUtterance,
		MaxUtterance:  m.cfg.MaxUtterance,
	}, m.gate, m.handleUtterance)
	defer seg.Flush()

	statsTick := time.NewTicker(statsLogInterval)
	defer statsTick.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-statsTick.C:
			m.logSummary()
		case frame, ok := <-m.source.Output():
			if !ok {
				return
			}
			m.observeFrame(frame)
			seg.Feed(frame)
		}
	}
}

// observeFrame updates frame counters and the ambient noise estimate used
// to adjust the verification threshold.
func (m *Monitor) observeFrame(frame audio.Frame) {
	rms := vad.RMS(frame.Samples)
	dropped := m.source.Dropped()
	m.stats.Update(func(s *Stats) {
		s.FramesProcessed++
		s.FramesDropped = dropped
		// Speech bursts are brief relative to silence, so a slow
		// exponential average tracks the noise floor well enough.
		s.AmbientNoise = s.AmbientNoise*(1-noiseAlpha) + rms*noiseAlpha
	})
}

// handleUtterance transcribes and verifies one finalized utterance. Runs
// on the segmentation loop goroutine.
func (m *Monitor) handleUtterance(utt segment.Utterance) {
	ctx, span := trace.StartSpan(m.baseCtx, "monitor.handle_utterance")
	span.SetAttr("utterance_id", utt.ID)
	span.SetAttr("duration", utt.Duration)
	defer span.End()

	logger := trace.Logger(ctx).With("component", "monitor", "utterance_id", utt.ID)
	m.stats.Update(func(s *Stats) { s.Utterances++ })

	tr, err := m.trans.Transcribe(ctx, utt.Samples, utt.SampleRate)
	if err != nil {
		// Transcription failure behaves like silence: log and move on.
		logger.Warn("transcription failed", "error", err, "outcome", OutcomeTranscriptionFailed)
		m.stats.Update(func(s *Stats) { s.TranscriptionFailures++ })
		return
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		logger.Debug("utterance contained no speech", "outcome", OutcomeNoSpeech)
		m.stats.Update(func(s *Stats) { s.NoSpeech++ })
		return
	}

	res := m.verify(text, tr.Confidence)
	if !res.Verified {
		logger.Debug("wake word rejected",
			"outcome", OutcomeRejected,
			"confidence", res.Confidence,
			"threshold", res.Threshold,
			"text_len", len([]rune(text)))
		m.stats.Update(func(s *Stats) { s.Rejected++ })
		return
	}

	now := m.now()
	admitted, reason := m.gate.Admit(res.Normalized, now)
	if !admitted {
		logger.Info("wake word suppressed", "outcome", OutcomeSuppressed, "reason", reason)
		m.stats.Update(func(s *Stats) { s.Suppressed++ })
		return
	}

	detection := Detection{
		UtteranceID: utt.ID,
		Transcript:  text,
		Normalized:  res.Normalized,
		Command:     extractCommand(text, res.Extracted),
		Confidence:  res.Confidence,
		Threshold:   res.Threshold,
		DetectedAt:  now,
	}
	m.stats.Update(func(s *Stats) {
		s.Accepted++
		s.LastDetection = now
	})
	logger.Info("wake word detected",
		"outcome", OutcomeAccepted,
		"confidence", detection.Confidence,
		"threshold", detection.Threshold,
		"has_command", detection.Command != "")

	select {
	case m.detections <- detection:
	case <-m.stopCh:
		m.gate.EndProcessing()
	}
}

// verify scores a transcript, or falls back to verbatim containment when
// phonetic verification is disabled.
func (m *Monitor) verify(text string, recognitionConfidence float64) phonetic.Result {
	if !m.verification.Load() {
		norm := phonetic.Normalize(text)
		for _, w := range m.cfg.WakeWords {
			if target := phonetic.Normalize(w); target != "" && strings.Contains(norm, target) {
				return phonetic.Result{Verified: true, Confidence: 1.0, Normalized: norm, Extracted: target}
			}
		}
		return phonetic.Result{Normalized: norm}
	}

	return m.verifier.Verify(text, phonetic.Context{
		TextLength:            len([]rune(text)),
		NoiseLevel:            m.stats.Get().AmbientNoise,
		RecognitionConfidence: recognitionConfidence,
		Hour:                  m.now().Hour(),
	})
}

// dispatchLoop delivers detections to callbacks at most once each. The
// gate stays in flight until every callback has returned, so overlapping
// handling is impossible even with slow consumers.
func (m *Monitor) dispatchLoop() {
	defer m.wg.Done()

	for detection := range m.detections {
		m.deliver(detection)
	}
}

func (m *Monitor) deliver(detection Detection) {
	defer m.gate.EndProcessing()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("detection callback panicked", "panic", r, "utterance_id", detection.UtteranceID)
		}
	}()

	m.mu.Lock()
	cbs := make([]Callback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(detection)
	}
}

// Statistics returns a snapshot of pipeline counters.
func (m *Monitor) Statistics() Stats {
	s := m.stats.Get()
	s.FramesDropped = m.source.Dropped()
	return s
}

func (m *Monitor) logSummary() {
	s := m.Statistics()
	m.logger.Info("pipeline summary",
		"frames", s.FramesProcessed,
		"dropped", s.FramesDropped,
		"utterances", s.Utterances,
		"accepted", s.Accepted,
		"rejected", s.Rejected,
		"suppressed", s.Suppressed,
		"ambient_noise", s.AmbientNoise)
}

// extractCommand returns the raw transcript remainder after the wake-word
// occurrence, with leading separators stripped. The occurrence is located
// by finding the shortest raw prefix span whose normalized form ends with
// the extracted fragment.
func extractCommand(text, extracted string) string {
	if extracted == "" {
		return ""
	}

	runes := []rune(text)
	for end := 1; end <= len(runes); end++ {
		prefix := phonetic.Normalize(string(runes[:end]))
		if strings.HasSuffix(prefix, extracted) {
			rest := strings.TrimLeftFunc(string(runes[end:]), func(r rune) bool {
				return unicode.IsSpace(r) || unicode.IsPunct(r)
			})
			return rest
		}
	}
	return ""
}
