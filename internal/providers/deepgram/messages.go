package deepgram

import (
	"encoding/json"
	"errors"
	"strings"

	"cookvoice/internal/domain"
)

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// listenMessage covers the listen API message types we react to: Results,
// UtteranceEnd and Error. Older payloads nest results under "results".
type listenMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (m listenMessage) transcript() string {
	if len(m.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(m.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(m.Results.Channels) > 0 && len(m.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(m.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

var endOfSpeech = domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}

// decodeMessage turns one socket payload into a transcript event. ok is false
// when the payload carries nothing to report. A provider Error message yields
// an end-of-speech marker together with a server recognition error.
func decodeMessage(payload []byte) (event domain.TranscriptEvent, ok bool, err error) {
	var msg listenMessage
	if json.Unmarshal(payload, &msg) != nil {
		return domain.TranscriptEvent{}, false, nil
	}

	switch {
	case strings.EqualFold(msg.Type, "Error"):
		reason := strings.TrimSpace(msg.Message)
		if reason == "" {
			reason = strings.TrimSpace(msg.Description)
		}
		if reason == "" {
			reason = "deepgram returned an unknown error"
		}
		return endOfSpeech, true, domain.NewRecognitionError(domain.RecognitionErrorServer, errors.New(reason))
	case strings.EqualFold(msg.Type, "UtteranceEnd"):
		return endOfSpeech, true, nil
	}

	text := msg.transcript()
	if text == "" {
		return endOfSpeech, msg.SpeechFinal, nil
	}
	event = domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text, IsSpeechFinal: msg.SpeechFinal}
	if msg.IsFinal || msg.SpeechFinal {
		event.Kind = domain.TranscriptKindFinal
	}
	return event, true, nil
}
