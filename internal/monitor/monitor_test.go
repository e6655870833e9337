package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxassist/platform/internal/audio"
	"github.com/luxassist/platform/internal/config"
	apperr "github.com/luxassist/platform/internal/errors"
	"github.com/luxassist/platform/internal/phonetic"
	"github.com/luxassist/platform/internal/resilience"
	"github.com/luxassist/platform/internal/transcribe"
)

// fakeSource feeds scripted frames in place of the portaudio capturer.
type fakeSource struct {
	ch       chan audio.Frame
	startErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan audio.Frame, 64)}
}

func (s *fakeSource) Start(ctx context.Context) error { return s.startErr }
func (s *fakeSource) Stop()                           {}
func (s *fakeSource) Output() <-chan audio.Frame      { return s.ch }
func (s *fakeSource) Dropped() uint64                 { return 0 }

// feed pushes n frames of constant amplitude.
func (s *fakeSource) feed(n int, amplitude int16) {
	for i := 0; i < n; i++ {
		samples := make([]int16, 480)
		for j := range samples {
			samples[j] = amplitude
		}
		s.ch <- audio.Frame{Samples: samples, Timestamp: time.Now(), SampleRate: 16000}
	}
}

type fakeTranscriber struct {
	mu      sync.Mutex
	results []transcribe.Transcript
	errs    []error
	calls   int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []int16, rate int) (transcribe.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return transcribe.Transcript{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return transcribe.Transcript{}, nil
}

func (f *fakeTranscriber) BreakerState() resilience.State { return resilience.Closed }

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.PostSilence = 90 * time.Millisecond
	cfg.MinUtterance = 90 * time.Millisecond
	return cfg
}

func newTestMonitor(t *testing.T, src *fakeSource, trans transcriber) *Monitor {
	t.Helper()
	cfg := testConfig()
	table := phonetic.DefaultConfusionTable()
	verifier, err := phonetic.NewVerifier(cfg.WakeWords, cfg.BaseThreshold, table, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	m := newWith(cfg, src, trans, verifier, nil)
	// Pin the clock to midday so the late-hour threshold adjustment
	// cannot change outcomes depending on when the suite runs.
	m.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local) }
	return m
}

// speakUtterance pushes enough loud frames to open a buffer and enough
// silence to finalize it.
func speakUtterance(src *fakeSource) {
	src.feed(6, 8000)
	src.feed(5, 0)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDetectionDelivered(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{{Text: "ルクス、電気をつけて", Confidence: 0.9}}}
	m := newTestMonitor(t, src, trans)

	var mu sync.Mutex
	var got []Detection
	m.RegisterCallback(func(d Detection) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	d := got[0]
	mu.Unlock()
	if d.Transcript != "ルクス、電気をつけて" {
		t.Errorf("transcript = %q", d.Transcript)
	}
	if d.Command != "電気をつけて" {
		t.Errorf("command = %q, want wake word and separator stripped", d.Command)
	}
	if d.Confidence < d.Threshold {
		t.Errorf("confidence %v below threshold %v", d.Confidence, d.Threshold)
	}
	if s := m.Statistics(); s.Accepted != 1 {
		t.Errorf("accepted = %d", s.Accepted)
	}
}

func TestCooldownSuppressesRepeat(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{
		{Text: "ルクス", Confidence: 0.9},
		{Text: "ルクス", Confidence: 0.9},
	}}
	m := newTestMonitor(t, src, trans)

	var count int
	var mu sync.Mutex
	m.RegisterCallback(func(Detection) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool { return trans.callCount() == 1 })
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	// Wait until the first detection has fully cleared the in-flight flag,
	// then speak the same transcript again inside the cooldown.
	waitFor(t, time.Second, func() bool { return !m.Gate().InFlight })
	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool { return m.Statistics().Suppressed == 1 })

	mu.Lock()
	if count != 1 {
		t.Errorf("callbacks = %d, want repeat suppressed", count)
	}
	mu.Unlock()
}

func TestTranscriptionFailureIsSilent(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{errs: []error{apperr.New(apperr.CodeTranscription, "service down")}}
	m := newTestMonitor(t, src, trans)

	fired := false
	m.RegisterCallback(func(Detection) { fired = true })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool { return m.Statistics().TranscriptionFailures == 1 })

	if fired {
		t.Error("callback fired despite transcription failure")
	}
}

func TestOutputActiveDiscardsAudio(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{{Text: "ルクス", Confidence: 0.9}}}
	m := newTestMonitor(t, src, trans)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	m.SetAudioOutputActive(true)
	speakUtterance(src)

	waitFor(t, time.Second, func() bool { return m.Statistics().FramesProcessed >= 11 })
	if n := trans.callCount(); n != 0 {
		t.Errorf("transcriber called %d times while output active", n)
	}
	if u := m.Statistics().Utterances; u != 0 {
		t.Errorf("utterances = %d, want audio discarded before segmentation", u)
	}
}

func TestRejectedTranscriptNotDelivered(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{{Text: "ブックス", Confidence: 0.9}}}
	m := newTestMonitor(t, src, trans)

	fired := false
	m.RegisterCallback(func(Detection) { fired = true })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool { return m.Statistics().Rejected == 1 })

	if fired {
		t.Error("callback fired for rejected transcript")
	}
}

// The hour fed into threshold adjustment comes from the monitor clock: the
// same near-miss rejected at midday clears the lowered late-night threshold.
func TestLateHourLowersThreshold(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{{Text: "ブックス", Confidence: 0.9}}}
	m := newTestMonitor(t, src, trans)
	m.now = func() time.Time { return time.Date(2026, 8, 30, 3, 0, 0, 0, time.Local) }

	var mu sync.Mutex
	var got []Detection
	m.RegisterCallback(func(d Detection) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].Threshold >= 0.7 {
		t.Errorf("threshold = %v, want lowered for late hour", got[0].Threshold)
	}
	if got[0].Confidence < got[0].Threshold {
		t.Errorf("confidence %v below threshold %v", got[0].Confidence, got[0].Threshold)
	}
}

func TestVerificationDisabledRequiresVerbatim(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{
		{Text: "らっくす", Confidence: 0.9},  // phonetic match only
		{Text: "ルクスです", Confidence: 0.9}, // verbatim containment
	}}
	m := newTestMonitor(t, src, trans)
	m.SetVerificationEnabled(false)

	var mu sync.Mutex
	var got []Detection
	m.RegisterCallback(func(d Detection) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool { return m.Statistics().Rejected == 1 })

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].Transcript != "ルクスです" {
		t.Errorf("delivered %q", got[0].Transcript)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	src := newFakeSource()
	m := newTestMonitor(t, src, &fakeTranscriber{})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	err := m.Start(context.Background())
	if !apperr.IsCode(err, apperr.CodeConcurrency) {
		t.Errorf("second Start: %v", err)
	}
}

func TestStopQuiescesCallbacks(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{{Text: "ルクス", Confidence: 0.9}}}
	m := newTestMonitor(t, src, trans)

	var mu sync.Mutex
	fired := 0
	m.RegisterCallback(func(Detection) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	})

	m.Stop()

	mu.Lock()
	after := fired
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired != after {
		t.Error("callback fired after Stop returned")
	}
}

func TestExtractCommand(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		extracted string
		want      string
	}{
		{"wake word only", "ルクス", "るくす", ""},
		{"separator stripped", "ルクス、電気をつけて", "るくす", "電気をつけて"},
		{"no separator", "ルクス今日の天気", "るくす", "今日の天気"},
		{"confusion pattern", "ラックス おはよう", "らっくす", "おはよう"},
		{"nothing extracted", "こんにちは", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractCommand(tt.text, tt.extracted); got != tt.want {
				t.Errorf("extractCommand(%q, %q) = %q, want %q", tt.text, tt.extracted, got, tt.want)
			}
		})
	}
}

func TestCallbackPanicDoesNotWedgeGate(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{
		{Text: "ルクス", Confidence: 0.9},
		{Text: "ルクス今日の天気", Confidence: 0.9},
	}}
	m := newTestMonitor(t, src, trans)

	var mu sync.Mutex
	calls := 0
	m.RegisterCallback(func(Detection) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("consumer bug")
		}
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	// A different phrase must still get through after the panic.
	waitFor(t, time.Second, func() bool { return !m.Gate().InFlight })
	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

func TestTranscriptWithOnlyWhitespaceIsNoSpeech(t *testing.T) {
	src := newFakeSource()
	trans := &fakeTranscriber{results: []transcribe.Transcript{{Text: "   "}}}
	m := newTestMonitor(t, src, trans)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	speakUtterance(src)
	waitFor(t, 2*time.Second, func() bool { return m.Statistics().NoSpeech == 1 })

	if s := m.Statistics(); s.Accepted != 0 || s.Rejected != 0 {
		t.Errorf("stats = %+v, want whitespace treated as silence", s)
	}
}
