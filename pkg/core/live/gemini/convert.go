package gemini

import (
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/vai-live/pkg/core/live"
)

func connectConfig(cfg live.Config) *genai.LiveConnectConfig {
	modality := genai.ModalityAudio
	if cfg.Modality == live.ModalityText {
		modality = genai.ModalityText
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{modality},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: activityDetection(cfg.TurnDetection),
		},
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.ProactiveAudio {
		out.Proactivity = &genai.ProactivityConfig{ProactiveAudio: genai.Ptr(true)}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

func activityDetection(td live.TurnDetection) *genai.AutomaticActivityDetection {
	aad := &genai.AutomaticActivityDetection{}
	switch td.StartSensitivity {
	case live.SensitivityLow:
		aad.StartOfSpeechSensitivity = genai.StartSensitivityLow
	case live.SensitivityHigh:
		aad.StartOfSpeechSensitivity = genai.StartSensitivityHigh
	}
	switch td.EndSensitivity {
	case live.SensitivityLow:
		aad.EndOfSpeechSensitivity = genai.EndSensitivityLow
	case live.SensitivityHigh:
		aad.EndOfSpeechSensitivity = genai.EndSensitivityHigh
	}
	if td.PrefixPadding > 0 {
		aad.PrefixPaddingMs = genai.Ptr(int32(td.PrefixPadding / time.Millisecond))
	}
	if td.SilenceDuration > 0 {
		aad.SilenceDurationMs = genai.Ptr(int32(td.SilenceDuration / time.Millisecond))
	}
	return aad
}

// fromServerMessage keeps only server content. Setup acks, tool calls and
// go-away notices carry nothing the bridge forwards.
func fromServerMessage(msg *genai.LiveServerMessage) (live.Message, bool) {
	if msg == nil || msg.ServerContent == nil {
		return live.Message{}, false
	}
	sc := msg.ServerContent
	out := live.Message{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.ModelTurn != nil && len(sc.ModelTurn.Parts) > 0 {
		if p := sc.ModelTurn.Parts[0]; p != nil && p.InlineData != nil {
			out.Audio = p.InlineData.Data
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		out.InputTranscript = &live.Transcript{Text: t.Text, Finished: t.Finished}
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		out.OutputTranscript = &live.Transcript{Text: t.Text, Finished: t.Finished}
	}
	return out, true
}
