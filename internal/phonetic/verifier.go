package phonetic

import (
	"log/slog"
	"time"

	apperr "github.com/luxassist/platform/internal/errors"
	"github.com/luxassist/platform/internal/syncx"
)

const (
	// latencyBudget is the soft ceiling for a single verification; calls
	// over it are counted and logged but still return their result.
	latencyBudget = 15 * time.Millisecond

	// extractionEarlyExit stops the long-transcript scan once a window
	// scores this high.
	extractionEarlyExit = 0.9

	// longTranscriptFactor switches to extraction when the normalized
	// input exceeds this multiple of the target length.
	longTranscriptFactor = 2

	thresholdFloor   = 0.5
	thresholdCeiling = 0.9
)

// Context carries per-utterance conditions that shift the acceptance
// threshold.
type Context struct {
	// TextLength is the rune count of the raw transcript.
	TextLength int
	// NoiseLevel is the ambient noise estimate in [0, 1].
	NoiseLevel float64
	// RecognitionConfidence is the transcriber's own confidence, 0 if
	// unknown.
	RecognitionConfidence float64
	// Hour is the local hour of day, 0-23.
	Hour int
}

// Result reports one verification decision.
type Result struct {
	Verified   bool
	Confidence float64
	// Normalized is the canonical form the input was scored in.
	Normalized string
	// Extracted is the best-matching portion of the input, equal to
	// Normalized for short inputs.
	Extracted string
	// Threshold is the context-adjusted acceptance threshold applied.
	Threshold float64
	Latency   time.Duration
}

// Stats aggregates verifier activity since construction.
type Stats struct {
	Calls        uint64
	Accepted     uint64
	Rejected     uint64
	CacheHits    uint64
	SlowCalls    uint64
	TotalLatency time.Duration
}

type target struct {
	raw   string
	norm  string
	runes []rune
}

// Verifier checks whether a transcript phonetically contains a wake word.
// Safe for concurrent use.
type Verifier struct {
	targets []target
	base    float64
	table   *ConfusionTable
	stats   *syncx.Guard[Stats]
	logger  *slog.Logger
}

// NewVerifier builds a verifier for the given wake words. Words that
// normalize to the same form are deduplicated.
func NewVerifier(wakeWords []string, baseThreshold float64, table *ConfusionTable, logger *slog.Logger) (*Verifier, error) {
	if baseThreshold <= 0 || baseThreshold > 1 {
		return nil, apperr.Newf(apperr.CodeConfig, "base threshold %.2f out of range (0, 1]", baseThreshold)
	}
	if table == nil {
		table = DefaultConfusionTable()
	}
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]bool)
	targets := make([]target, 0, len(wakeWords))
	for _, w := range wakeWords {
		n := Normalize(w)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		targets = append(targets, target{raw: w, norm: n, runes: []rune(n)})
	}
	if len(targets) == 0 {
		return nil, apperr.New(apperr.CodeConfig, "no usable wake words")
	}

	return &Verifier{
		targets: targets,
		base:    baseThreshold,
		table:   table,
		stats:   syncx.NewGuard(Stats{}),
		logger:  logger.With("component", "verifier"),
	}, nil
}

// Verify scores a transcript against every wake word and accepts it when
// the best score meets the context-adjusted threshold. It never panics:
// internal failures produce an unverified result with zero confidence.
func (v *Verifier) Verify(text string, vctx Context) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("verification recovered", "panic", r, "text_len", len(text))
			res = Result{Threshold: v.base}
		}
		res.Latency = time.Since(start)
		slow := res.Latency > latencyBudget
		if slow {
			v.logger.Warn("verification over latency budget",
				"latency", res.Latency, "budget", latencyBudget)
		}
		v.stats.Update(func(s *Stats) {
			s.Calls++
			if res.Verified {
				s.Accepted++
			} else {
				s.Rejected++
			}
			if slow {
				s.SlowCalls++
			}
			s.TotalLatency += res.Latency
		})
	}()

	res.Threshold = v.adjustedThreshold(vctx)
	res.Normalized = Normalize(text)
	if res.Normalized == "" {
		return res
	}

	for _, t := range v.targets {
		if res.Normalized == t.norm {
			res.Confidence = 1.0
			res.Extracted = res.Normalized
			res.Verified = true
			return res
		}
	}

	if c, ok := v.table.Lookup(res.Normalized); ok {
		v.stats.Update(func(s *Stats) { s.CacheHits++ })
		res.Confidence = c
		res.Extracted = res.Normalized
		res.Verified = c >= res.Threshold
		return res
	}

	inputLen := len([]rune(res.Normalized))
	for _, t := range v.targets {
		var sim float64
		var part string
		if inputLen <= longTranscriptFactor*len(t.runes) {
			sim = Similarity(res.Normalized, t.norm)
			part = res.Normalized
		} else {
			sim, part = v.extract(text, res.Normalized, t)
		}
		if sim > res.Confidence {
			res.Confidence = sim
			res.Extracted = part
		}
	}

	res.Verified = res.Confidence >= res.Threshold
	return res
}

// extract scans a long transcript for the best-scoring fragment: first the
// individual tokens, then sliding windows near the target length over the
// normalized rune sequence. Both passes consult the confusion table.
func (v *Verifier) extract(raw, normalized string, t target) (float64, string) {
	var best float64
	var part string

	score := func(candidate string) bool {
		if c, ok := v.table.Lookup(candidate); ok && c > best {
			best, part = c, candidate
		}
		if sim := Similarity(candidate, t.norm); sim > best {
			best, part = sim, candidate
		}
		return best > extractionEarlyExit
	}

	for _, tok := range Tokenize(raw) {
		if score(tok) {
			return best, part
		}
	}

	runes := []rune(normalized)
	for win := len(t.runes) - 2; win <= len(t.runes)+2; win++ {
		if win < 2 || win > len(runes) {
			continue
		}
		for i := 0; i+win <= len(runes); i++ {
			if score(string(runes[i : i+win])) {
				return best, part
			}
		}
	}
	return best, part
}

// adjustedThreshold shifts the base threshold for adverse conditions and
// clamps the result. Noisy rooms, long or very short transcripts, a shaky
// recognizer, and late-night hours all loosen acceptance.
func (v *Verifier) adjustedThreshold(vctx Context) float64 {
	t := v.base

	if vctx.NoiseLevel > 0.5 {
		t -= 0.10
	}

	switch {
	case vctx.TextLength > 15:
		t -= 0.15
	case vctx.TextLength > 10:
		t -= 0.10
	case vctx.TextLength > 6:
		t -= 0.05
	case vctx.TextLength > 0 && vctx.TextLength < 3:
		t -= 0.05
	}

	if vctx.RecognitionConfidence > 0 && vctx.RecognitionConfidence < 0.8 {
		t -= 0.05
	}

	if vctx.Hour < 6 || vctx.Hour > 22 {
		t -= 0.05
	}

	if t < thresholdFloor {
		return thresholdFloor
	}
	if t > thresholdCeiling {
		return thresholdCeiling
	}
	return t
}

// Statistics returns a snapshot of verifier counters.
func (v *Verifier) Statistics() Stats {
	return v.stats.Get()
}
