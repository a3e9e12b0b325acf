package transcription

import (
	"context"
	"testing"

	"github.com/skypro1111/dualscribe/internal/transcript"
)

func TestNewRecognizer(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		expectErr bool
	}{
		{name: "default provider", config: Config{Endpoint: "http://localhost:9000"}},
		{name: "http provider", config: Config{Provider: "http", Endpoint: "http://localhost:9000"}},
		{name: "http without endpoint", config: Config{Provider: "http"}, expectErr: true},
		{name: "openai provider", config: Config{Provider: "openai", APIKey: "sk-test"}},
		{name: "openai without key", config: Config{Provider: "openai"}, expectErr: true},
		{name: "unknown provider", config: Config{Provider: "carrier-pigeon"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recognizer, err := NewRecognizer(tt.config)
			if tt.expectErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				if recognizer != nil {
					t.Error("Expected nil recognizer on error")
				}
				return
			}
			if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestRecognizerFunc(t *testing.T) {
	var gotOffset float64
	recognizer := RecognizerFunc(func(ctx context.Context, samples []float32, offset float64) ([]transcript.Segment, error) {
		gotOffset = offset
		return []transcript.Segment{{StartTime: offset, EndTime: offset + 1, Text: "x"}}, nil
	})

	segments, err := recognizer.Recognize(context.Background(), nil, 4.5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotOffset != 4.5 || len(segments) != 1 {
		t.Errorf("Unexpected result: offset %f, %d segments", gotOffset, len(segments))
	}
}

func TestToSegments(t *testing.T) {
	segments := toSegments([]rawSegment{{Start: 0.5, End: 1.5, Text: "  hi "}}, "ignored", 16000, 2)
	if len(segments) != 1 || segments[0].StartTime != 2.5 || segments[0].EndTime != 3.5 || segments[0].Text != "hi" {
		t.Errorf("Unexpected segments: %+v", segments)
	}

	if got := toSegments(nil, "   ", 16000, 0); got != nil {
		t.Errorf("Expected nil for blank text-only response, got %+v", got)
	}
}
