package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewOpenAIRecognizerValidation(t *testing.T) {
	if _, err := NewOpenAIRecognizer(Config{}); err == nil {
		t.Error("Expected error for missing API key")
	}

	recognizer, err := NewOpenAIRecognizer(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if recognizer.config.Model != "whisper-1" {
		t.Errorf("Expected default model whisper-1, got %q", recognizer.config.Model)
	}
}

func TestOpenAIRecognize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("Unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse form: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("Expected verbose_json, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"task": "transcribe",
			"language": "english",
			"duration": 2.0,
			"text": "one two",
			"segments": [
				{"id": 0, "start": 0.0, "end": 1.0, "text": " one"},
				{"id": 1, "start": 1.0, "end": 2.0, "text": " two"}
			]
		}`))
	}))
	defer server.Close()

	recognizer, err := NewOpenAIRecognizer(Config{APIKey: "sk-test", Endpoint: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("Failed to create recognizer: %v", err)
	}

	segments, err := recognizer.Recognize(context.Background(), make([]float32, 32000), 3)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segments))
	}
	if segments[0].StartTime != 3 || segments[0].EndTime != 4 || segments[0].Text != "one" {
		t.Errorf("Unexpected first segment: %+v", segments[0])
	}
	if segments[1].StartTime != 4 || segments[1].EndTime != 5 || segments[1].Text != "two" {
		t.Errorf("Unexpected second segment: %+v", segments[1])
	}

	if stats := recognizer.GetStats(); stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 successful request, got %d", stats.SuccessRequests)
	}
}

func TestOpenAIRecognizeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad audio", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	recognizer, _ := NewOpenAIRecognizer(Config{APIKey: "sk-test", Endpoint: server.URL + "/v1"})

	if _, err := recognizer.Recognize(context.Background(), make([]float32, 1600), 0); err == nil {
		t.Error("Expected error from failing API")
	}
	if stats := recognizer.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}
