package monitor

import "time"

const (
	// detectionQueueSize bounds pending detections between the
	// segmentation loop and the dispatch worker. The gate admits one
	// detection at a time, so this rarely holds more than one entry.
	detectionQueueSize = 4

	// noiseAlpha is the smoothing factor of the ambient noise estimate.
	noiseAlpha = 0.05

	// statsLogInterval is how often the run loop logs a stats summary.
	statsLogInterval = 60 * time.Second
)

// Outcome classifies what happened to a finalized utterance.
type Outcome string

const (
	OutcomeAccepted            Outcome = "accepted"
	OutcomeNoSpeech            Outcome = "no_speech"
	OutcomeTranscriptionFailed Outcome = "transcription_failed"
	OutcomeRejected            Outcome = "rejected"
	OutcomeSuppressed          Outcome = "suppressed"
)
