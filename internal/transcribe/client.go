// Package transcribe sends utterance audio to the speech-to-text service
// and returns the recognized text.
package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/luxassist/platform/internal/audio"
	apperr "github.com/luxassist/platform/internal/errors"
	"github.com/luxassist/platform/internal/resilience"
	"github.com/luxassist/platform/internal/trace"
)

const (
	maxResponseBytes = 1 << 20

	wavHeaderBytes = 44
	pcmFormat      = 1
	monoChannels   = 1
	bitsPerSample  = 16
)

// Transcript is the service's recognition result for one utterance.
type Transcript struct {
	Text string `json:"text"`
	// Confidence is the recognizer's own estimate, 0 when the service
	// does not report one.
	Confidence float64 `json:"confidence"`
}

// Client posts WAV-encoded utterances to an HTTP transcription service.
// Failures open a circuit breaker so a dead service does not stall the
// segmentation loop on every utterance.
type Client struct {
	url      string
	language string
	http     *http.Client
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

// NewClient builds a transcription client for the given endpoint.
func NewClient(url, language string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.BaseDelay = 200 * time.Millisecond

	return &Client{
		url:      url,
		language: language,
		http:     &http.Client{Timeout: timeout},
		breaker:  resilience.NewBreaker(resilience.GatewayConfig()),
		retry:    retry,
		logger:   logger.With("component", "transcribe"),
	}
}

// Transcribe encodes samples as 16-bit mono WAV and posts them to the
// service. Transport errors and 5xx responses are retried; an open breaker
// fails fast.
func (c *Client) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcript, error) {
	if len(samples) == 0 {
		return Transcript{}, apperr.New(apperr.CodeTranscription, "empty utterance")
	}

	wav := EncodeWAV(samples, sampleRate)
	logger := trace.Logger(ctx).With("component", "transcribe")
	start := time.Now()

	result, err := resilience.ExecuteWithResult(c.breaker, func() (Transcript, error) {
		var tr Transcript
		err := resilience.Retry(ctx, c.retry, func() error {
			var attemptErr error
			tr, attemptErr = c.post(ctx, wav)
			return attemptErr
		})
		return tr, err
	})
	if err != nil {
		return Transcript{}, apperr.Wrap(err, apperr.CodeTranscription, "transcription request")
	}

	logger.Debug("utterance transcribed",
		"text_len", len([]rune(result.Text)),
		"confidence", result.Confidence,
		"audio_ms", len(samples)*1000/sampleRate,
		"latency", time.Since(start))
	return result, nil
}

func (c *Client) post(ctx context.Context, wav []byte) (Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return Transcript{}, fmt.Errorf("write audio part: %w", err)
	}
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return Transcript{}, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return Transcript{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Transcript{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return Transcript{}, resilience.MarkTransient(
			fmt.Errorf("service returned %d: %s", resp.StatusCode, truncate(data, 200)))
	}
	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("service returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return Transcript{}, fmt.Errorf("decode response: %w", err)
	}
	return tr, nil
}

// BreakerState exposes the gateway breaker state for diagnostics.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// EncodeWAV wraps raw 16-bit mono PCM in a RIFF WAV container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderBytes+dataLen))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(pcmFormat))
	binary.Write(buf, binary.LittleEndian, uint16(monoChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*monoChannels*bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(monoChannels*bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(audio.Int16ToBytes(samples))
	return buf.Bytes()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
