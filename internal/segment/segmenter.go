// Package segment assembles captured frames into finalized utterances
package segment

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/luxassist/platform/internal/audio"
	"github.com/luxassist/platform/internal/vad"
)

// Utterance is a finalized span of speech bounded by silence, ready for
// transcription. ID correlates the utterance across log lines and spans.
type Utterance struct {
	ID           string
	Samples      []int16
	SampleRate   int
	Start        time.Time
	Duration     time.Duration
	ForcedCutoff bool
}

// SuppressionQuery reports whether segmentation input should currently be
// discarded (assistant speaking, or inside the post-output guard window).
type SuppressionQuery interface {
	Suppressed() bool
}

// Config holds segmentation bounds.
type Config struct {
	FrameDuration time.Duration
	PreRoll       time.Duration // onset audio seeded into a new buffer
	PostSilence   time.Duration // trailing silence that finalizes
	MinUtterance  time.Duration // shorter buffers are discarded
	MaxUtterance  time.Duration // hard cutoff
}

// Segmenter runs the IDLE/ACTIVE state machine over incoming frames. At
// most one buffer is active at a time. Not safe for concurrent use; it is
// owned by the monitor's segmentation loop.
type Segmenter struct {
	det        vad.Detector
	cfg        Config
	suppress   SuppressionQuery
	onFinalize func(Utterance)

	preRoll    []audio.Frame
	maxPreRoll int

	active  bool
	buf     []int16
	start   time.Time
	bufDur  time.Duration
	silence time.Duration
	rate    int
}

// New creates a segmenter. onFinalize receives every finalized utterance on
// the caller's goroutine.
func New(det vad.Detector, cfg Config, suppress SuppressionQuery, onFinalize func(Utterance)) *Segmenter {
	maxPreRoll := 0
	if cfg.FrameDuration > 0 {
		maxPreRoll = int(cfg.PreRoll / cfg.FrameDuration)
	}
	return &Segmenter{
		det:        det,
		cfg:        cfg,
		suppress:   suppress,
		onFinalize: onFinalize,
		maxPreRoll: maxPreRoll,
	}
}

// Active reports whether an utterance buffer is currently open.
func (s *Segmenter) Active() bool { return s.active }

// Feed processes one captured frame through the state machine.
func (s *Segmenter) Feed(frame audio.Frame) {
	if s.suppress != nil && s.suppress.Suppressed() {
		// The assistant is speaking (or just finished): nothing heard now
		// may enter segmentation, including an utterance already underway.
		if s.active {
			slog.Debug("abandoning active buffer under suppression")
		}
		s.reset()
		return
	}

	isSpeech := s.det.IsSpeech(frame.Samples)

	if !s.active {
		s.pushPreRoll(frame)
		if isSpeech {
			s.begin(frame)
		}
		return
	}

	s.append(frame)

	if isSpeech {
		s.silence = 0
	} else {
		s.silence += frame.Duration()
		if s.silence >= s.cfg.PostSilence && s.bufDur >= s.cfg.MinUtterance {
			s.finalize(false)
			return
		}
	}

	if s.bufDur > s.cfg.MaxUtterance {
		s.finalize(true)
	}
}

// begin opens a buffer seeded with the pre-roll window, so the onset lost
// to detection latency is still transcribed.
func (s *Segmenter) begin(frame audio.Frame) {
	s.active = true
	s.silence = 0
	s.bufDur = 0
	s.rate = frame.SampleRate
	s.buf = s.buf[:0]

	s.start = frame.Timestamp
	if len(s.preRoll) > 0 {
		s.start = s.preRoll[0].Timestamp
	}
	for _, pf := range s.preRoll {
		s.buf = append(s.buf, pf.Samples...)
		s.bufDur += pf.Duration()
	}
	s.preRoll = s.preRoll[:0]

	slog.Debug("voice activity onset", "pre_roll", s.bufDur)
}

func (s *Segmenter) append(frame audio.Frame) {
	s.buf = append(s.buf, frame.Samples...)
	s.bufDur += frame.Duration()
}

func (s *Segmenter) pushPreRoll(frame audio.Frame) {
	if s.maxPreRoll == 0 {
		return
	}
	s.preRoll = append(s.preRoll, frame)
	if len(s.preRoll) > s.maxPreRoll {
		s.preRoll = s.preRoll[1:]
	}
}

// finalize hands the buffer off and returns to IDLE.
func (s *Segmenter) finalize(forced bool) {
	utt := Utterance{
		ID:           uuid.NewString(),
		Samples:      append([]int16(nil), s.buf...),
		SampleRate:   s.rate,
		Start:        s.start,
		Duration:     s.bufDur,
		ForcedCutoff: forced,
	}
	s.reset()

	slog.Debug("utterance finalized", "utterance_id", utt.ID, "duration", utt.Duration, "forced", forced)
	if s.onFinalize != nil {
		s.onFinalize(utt)
	}
}

// reset abandons any in-progress buffer and the pre-roll window without
// finalizing. Used under suppression and on shutdown.
func (s *Segmenter) reset() {
	s.active = false
	s.buf = s.buf[:0]
	s.preRoll = s.preRoll[:0]
	s.silence = 0
	s.bufDur = 0
	s.det.Reset()
}

// Flush abandons any pending buffer without invoking the finalize handler.
func (s *Segmenter) Flush() {
	s.reset()
}
