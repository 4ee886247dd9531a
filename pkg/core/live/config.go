package live

import "time"

// Modality is the response modality requested from the remote model.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Sensitivity tunes how eagerly server-side activity detection reacts.
type Sensitivity string

const (
	SensitivityDefault Sensitivity = ""
	SensitivityLow     Sensitivity = "LOW"
	SensitivityHigh    Sensitivity = "HIGH"
)

// TurnDetection configures server-side turn-taking.
type TurnDetection struct {
	StartSensitivity Sensitivity
	EndSensitivity   Sensitivity
	PrefixPadding    time.Duration
	SilenceDuration  time.Duration
}

// Config is everything needed to open one remote session.
type Config struct {
	Modality          Modality
	SystemInstruction string
	Voice             string
	TurnDetection     TurnDetection
	ProactiveAudio    bool

	// Transcription of the caller's speech and of the model's speech.
	InputTranscription  bool
	OutputTranscription bool
}

// DefaultTurnDetection is tuned for phone-style calls: the model waits for a
// clear pause before taking its turn.
func DefaultTurnDetection() TurnDetection {
	return TurnDetection{
		StartSensitivity: SensitivityLow,
		EndSensitivity:   SensitivityLow,
		PrefixPadding:    100 * time.Millisecond,
		SilenceDuration:  1000 * time.Millisecond,
	}
}
