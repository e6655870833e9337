// Package audio handles input device capture with backpressure
package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/luxassist/platform/internal/errors"
)

// Frame is one fixed-duration block of PCM captured from the microphone.
// Ownership transfers with the channel hand-off: whoever receives it holds
// the only reference to Samples.
type Frame struct {
	Samples    []int16
	Timestamp  time.Time
	SampleRate int
	Seq        uint64
}

// Duration returns the wall time covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Capturer reads fixed-size frames from a single input device and pushes
// them into a bounded queue. The portaudio read loop never blocks on a slow
// consumer: when the queue is full the oldest frame is dropped, because the
// most recent audio is the audio worth keeping.
type Capturer struct {
	outCh        chan Frame
	sampleRate   int
	frameSamples int
	deviceHint   string

	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	running bool

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewCapturer creates a capturer. frameSamples is the per-frame sample count
// (e.g. 480 for 30 ms at 16 kHz). deviceHint selects an input device by
// case-insensitive substring; empty means the system default.
func NewCapturer(sampleRate, frameSamples, queueSize int, deviceHint string) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDevice, "portaudio init failed")
	}

	return &Capturer{
		outCh:        make(chan Frame, queueSize),
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		deviceHint:   deviceHint,
	}, nil
}

// Output returns the channel for receiving captured frames.
func (c *Capturer) Output() <-chan Frame { return c.outCh }

// Dropped returns the number of frames discarded due to queue overflow.
func (c *Capturer) Dropped() uint64 { return c.dropped.Load() }

// Start opens the input device and begins the read loop. A failure to open
// the device is terminal for the capturer and carries CodeDevice.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	dev, err := c.selectDevice()
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: c.frameSamples,
	}

	buf := make([]int16, c.frameSamples)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeDevice, "open stream on %q", dev.Name)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return apperrors.Wrapf(err, apperrors.CodeDevice, "start stream on %q", dev.Name)
	}

	devCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.running = true

	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.sampleRate, "frame_samples", c.frameSamples)

	go c.readLoop(devCtx, stream, buf, dev.Name)
	return nil
}

func (c *Capturer) selectDevice() (*portaudio.DeviceInfo, error) {
	if c.deviceHint != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDevice, "enumerate devices")
		}
		hint := strings.ToLower(c.deviceHint)
		for _, dev := range devices {
			if dev.MaxInputChannels >= 1 && strings.Contains(strings.ToLower(dev.Name), hint) {
				return dev, nil
			}
		}
		return nil, apperrors.Newf(apperrors.CodeDevice, "no input device matching %q", c.deviceHint)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDevice, "no default input device")
	}
	return dev, nil
}

func (c *Capturer) readLoop(ctx context.Context, stream *portaudio.Stream, buf []int16, deviceName string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Individual read errors are not fatal; log and keep going.
			slog.Debug("audio read error", "device", deviceName, "error", err)
			continue
		}

		frame := Frame{
			Samples:    append([]int16(nil), buf...),
			Timestamp:  time.Now(),
			SampleRate: c.sampleRate,
			Seq:        c.seq.Add(1),
		}
		c.push(frame)
	}
}

// push enqueues a frame, dropping the oldest queued frame on overflow.
func (c *Capturer) push(frame Frame) {
	select {
	case c.outCh <- frame:
		return
	default:
	}

	// Queue full: evict the oldest, then retry once. If a consumer raced us
	// to the eviction the retry may still fail; then the new frame is lost,
	// which is the same policy applied one frame later.
	select {
	case <-c.outCh:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.outCh <- frame:
	default:
		c.dropped.Add(1)
	}
}

// Stop closes the stream and releases the audio host. Safe to call more
// than once.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false

	if c.cancel != nil {
		c.cancel()
	}
	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		c.stream = nil
	}
	_ = portaudio.Terminate()
}

// ListInputDevices returns the names of all devices with input channels.
func ListInputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDevice, "portaudio init failed")
	}
	defer func() { _ = portaudio.Terminate() }()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDevice, "enumerate devices")
	}

	var names []string
	for _, dev := range devices {
		if dev.MaxInputChannels >= 1 {
			names = append(names, dev.Name)
		}
	}
	return names, nil
}

// Int16ToBytes converts samples to little-endian PCM bytes for the
// transcription gateway.
func Int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
