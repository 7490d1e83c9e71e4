package deepgram

import (
	"errors"
	"testing"

	"cookvoice/internal/domain"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		ok      bool
		want    domain.TranscriptEvent
	}{
		{
			name:    "interim result",
			payload: `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":" 다음 ","confidence":0.8}]}}`,
			ok:      true,
			want:    domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "다음"},
		},
		{
			name:    "final result",
			payload: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"다음 단계"}]}}`,
			ok:      true,
			want:    domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "다음 단계"},
		},
		{
			name:    "legacy results layout",
			payload: `{"speech_final":true,"results":{"channels":[{"alternatives":[{"transcript":"이전"}]}]}}`,
			ok:      true,
			want:    domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "이전", IsSpeechFinal: true},
		},
		{
			name:    "silent speech final",
			payload: `{"type":"Results","speech_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
			ok:      true,
			want:    endOfSpeech,
		},
		{
			name:    "empty interim",
			payload: `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`,
		},
		{
			name:    "utterance end",
			payload: `{"type":"UtteranceEnd","last_word_end":2.1}`,
			ok:      true,
			want:    endOfSpeech,
		},
		{
			name:    "metadata",
			payload: `{"type":"Metadata","request_id":"abc"}`,
		},
		{
			name:    "not json",
			payload: `garbage`,
		},
	}

	for _, tc := range tests {
		event, ok, err := decodeMessage([]byte(tc.payload))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if ok != tc.ok {
			t.Fatalf("%s: ok = %v, want %v", tc.name, ok, tc.ok)
		}
		if ok && event != tc.want {
			t.Fatalf("%s: event = %+v, want %+v", tc.name, event, tc.want)
		}
	}
}

func TestDecodeMessageError(t *testing.T) {
	t.Parallel()

	event, ok, err := decodeMessage([]byte(`{"type":"Error","description":"bad audio"}`))
	var recognitionErr *domain.RecognitionError
	if !errors.As(err, &recognitionErr) || recognitionErr.Code != domain.RecognitionErrorServer {
		t.Fatalf("expected server recognition error, got %v", err)
	}
	if !ok || event != endOfSpeech {
		t.Fatalf("expected end-of-speech marker with the error, got %+v %v", event, ok)
	}
	if recognitionErr.Err.Error() != "bad audio" {
		t.Fatalf("expected description as reason, got %v", err)
	}
}
