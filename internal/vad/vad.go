// Package vad classifies single audio frames as speech or silence
package vad

import "math"

// Detector is the per-frame speech/silence decision primitive. The
// segmenter treats it as opaque; any implementation (energy heuristic,
// model-backed sidecar) can be plugged in.
type Detector interface {
	IsSpeech(frame []int16) bool
	Reset()
}

// DetectorFunc adapts a stateless decision function to Detector.
type DetectorFunc func(frame []int16) bool

func (f DetectorFunc) IsSpeech(frame []int16) bool { return f(frame) }
func (f DetectorFunc) Reset()                      {}

// Sensitivity presets 0..3. Higher values classify more frames as silence,
// matching the convention of the usual VAD libraries. Thresholds are RMS
// over full-scale int16.
var sensitivityLevels = [4]struct {
	speechRMS  float64
	silenceRMS float64
}{
	{0.008, 0.004},
	{0.012, 0.006},
	{0.015, 0.008},
	{0.022, 0.012},
}

// Energy is a pure-Go detector based on RMS energy with hysteresis: a
// higher threshold to enter speech than to stay in it, so the decision does
// not flicker at utterance boundaries.
type Energy struct {
	speechRMS  float64
	silenceRMS float64
	inSpeech   bool
}

// NewEnergy returns an energy detector for the given sensitivity preset
// (clamped to 0..3).
func NewEnergy(sensitivity int) *Energy {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 3 {
		sensitivity = 3
	}
	lvl := sensitivityLevels[sensitivity]
	return &Energy{speechRMS: lvl.speechRMS, silenceRMS: lvl.silenceRMS}
}

// IsSpeech classifies one frame.
func (e *Energy) IsSpeech(frame []int16) bool {
	level := RMS(frame)

	if e.inSpeech {
		if level < e.silenceRMS {
			e.inSpeech = false
		}
	} else {
		if level >= e.speechRMS {
			e.inSpeech = true
		}
	}
	return e.inSpeech
}

// Reset clears the hysteresis state.
func (e *Energy) Reset() {
	e.inSpeech = false
}

// RMS returns the root-mean-square level of a frame, normalized to [0,1]
// over the int16 range.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
