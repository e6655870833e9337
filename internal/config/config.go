// Package config handles monitor configuration
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	apperrors "github.com/luxassist/platform/internal/errors"
)

// Config holds every tunable of the wake-word pipeline. Defaults match the
// shipped assistant; a YAML file may override them and environment variables
// win over both.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// Transcription gateway
	TranscriberURL    string        `yaml:"transcriber_url"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	Language          string        `yaml:"language"`

	// Capture
	SampleRate     int           `yaml:"sample_rate"`
	FrameDuration  time.Duration `yaml:"frame_duration"`
	FrameQueueSize int           `yaml:"frame_queue_size"`
	InputDevice    string        `yaml:"input_device"` // substring match, empty = default device

	// Segmentation
	VADSensitivity int           `yaml:"vad_sensitivity"` // 0 (lenient) .. 3 (aggressive)
	PreRoll        time.Duration `yaml:"pre_roll"`
	PostSilence    time.Duration `yaml:"post_silence"`
	MinUtterance   time.Duration `yaml:"min_utterance"`
	MaxUtterance   time.Duration `yaml:"max_utterance"`

	// Verification
	WakeWords          []string `yaml:"wake_words"`
	BaseThreshold      float64  `yaml:"base_threshold"`
	ConfusionTablePath string   `yaml:"confusion_table"`

	// Suppression
	WakeWordCooldown        time.Duration `yaml:"wake_word_cooldown"`
	OutputSuppressionWindow time.Duration `yaml:"output_suppression_window"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:                ":8170",
		TranscriberURL:          "http://localhost:9000/transcribe",
		TranscribeTimeout:       10 * time.Second,
		Language:                "ja-JP",
		SampleRate:              16000,
		FrameDuration:           30 * time.Millisecond,
		FrameQueueSize:          100,
		VADSensitivity:          2,
		PreRoll:                 300 * time.Millisecond,
		PostSilence:             500 * time.Millisecond,
		MinUtterance:            300 * time.Millisecond,
		MaxUtterance:            10 * time.Second,
		WakeWords:               []string{"ルクス", "るくす", "Lux", "lux"},
		BaseThreshold:           0.7,
		WakeWordCooldown:        3 * time.Second,
		OutputSuppressionWindow: 2 * time.Second,
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in ascending priority.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfig, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfig, "parse config %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.TranscriberURL = getEnv("TRANSCRIBER_URL", c.TranscriberURL)
	c.TranscribeTimeout = getEnvDuration("TRANSCRIBE_TIMEOUT", c.TranscribeTimeout)
	c.Language = getEnv("LANGUAGE", c.Language)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.FrameDuration = getEnvDuration("FRAME_DURATION", c.FrameDuration)
	c.FrameQueueSize = getEnvInt("FRAME_QUEUE_SIZE", c.FrameQueueSize)
	c.InputDevice = getEnv("INPUT_DEVICE", c.InputDevice)
	c.VADSensitivity = getEnvInt("VAD_SENSITIVITY", c.VADSensitivity)
	c.PreRoll = getEnvDuration("PRE_ROLL", c.PreRoll)
	c.PostSilence = getEnvDuration("POST_SILENCE", c.PostSilence)
	c.MinUtterance = getEnvDuration("MIN_UTTERANCE", c.MinUtterance)
	c.MaxUtterance = getEnvDuration("MAX_UTTERANCE", c.MaxUtterance)
	c.WakeWords = getEnvList("WAKE_WORDS", c.WakeWords)
	c.BaseThreshold = getEnvFloat("BASE_THRESHOLD", c.BaseThreshold)
	c.ConfusionTablePath = getEnv("CONFUSION_TABLE", c.ConfusionTablePath)
	c.WakeWordCooldown = getEnvDuration("WAKE_WORD_COOLDOWN", c.WakeWordCooldown)
	c.OutputSuppressionWindow = getEnvDuration("OUTPUT_SUPPRESSION_WINDOW", c.OutputSuppressionWindow)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return apperrors.Newf(apperrors.CodeConfig, "sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameDuration <= 0 {
		return apperrors.Newf(apperrors.CodeConfig, "frame duration must be positive, got %v", c.FrameDuration)
	}
	if len(c.WakeWords) == 0 {
		return apperrors.New(apperrors.CodeConfig, "at least one wake word required")
	}
	if c.BaseThreshold < 0 || c.BaseThreshold > 1 {
		return apperrors.Newf(apperrors.CodeConfig, "base threshold must be in [0,1], got %v", c.BaseThreshold)
	}
	if c.VADSensitivity < 0 || c.VADSensitivity > 3 {
		return apperrors.Newf(apperrors.CodeConfig, "vad sensitivity must be in 0..3, got %d", c.VADSensitivity)
	}
	if c.MinUtterance > c.MaxUtterance {
		return apperrors.Newf(apperrors.CodeConfig, "min utterance %v exceeds max %v", c.MinUtterance, c.MaxUtterance)
	}
	return nil
}

// FrameSamples returns the number of samples per capture frame.
func (c *Config) FrameSamples() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

// String renders the config for startup logging, wake words included.
func (c *Config) String() string {
	return fmt.Sprintf("wake_words=%v sample_rate=%d frame=%v vad=%d threshold=%.2f cooldown=%v",
		c.WakeWords, c.SampleRate, c.FrameDuration, c.VADSensitivity, c.BaseThreshold, c.WakeWordCooldown)
}
