package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skypro1111/dualscribe/internal/audio"
	"github.com/skypro1111/dualscribe/internal/transcription"
)

func tone(seconds float64, rate int) []float32 {
	samples := make([]float32, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = 0.3 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return samples
}

func TestTranscribeVoicedSpans(t *testing.T) {
	rec := &recognizer{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), threshold: 0.01}

	// 4s tone, 2s silence, 2s tone
	samples := append(tone(4, 16000), make([]float32, 32000)...)
	samples = append(samples, tone(2, 16000)...)

	response, err := rec.transcribe(audio.Clip{Samples: samples, SampleRate: 16000, Channels: 1}, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if response.Duration != 8 {
		t.Errorf("Expected duration 8, got %v", response.Duration)
	}
	if len(response.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %+v", response.Segments)
	}
	if response.Segments[0].Start != 0 || response.Segments[0].End != 4 {
		t.Errorf("Expected first segment 0-4, got %+v", response.Segments[0])
	}
	if response.Segments[1].Start != 6 || response.Segments[1].End != 8 {
		t.Errorf("Expected second segment 6-8, got %+v", response.Segments[1])
	}
	if response.Language != "en" {
		t.Errorf("Expected default language en, got %q", response.Language)
	}
}

func TestHandleTranscribe(t *testing.T) {
	rec := &recognizer{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), threshold: 0.01}

	wavData, err := audio.EncodeWAV(tone(2, 16000), 16000)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "block.wav")
	part.Write(wavData)
	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("language", "uk")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	rec.handleTranscribe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response transcription.VerboseResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Language != "uk" || len(response.Segments) != 1 {
		t.Errorf("Unexpected response %+v", response)
	}
}

func TestHandleTranscribeRejectsBadRequests(t *testing.T) {
	rec := &recognizer{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), threshold: 0.01}

	w := httptest.NewRecorder()
	rec.handleTranscribe(w, httptest.NewRequest(http.MethodGet, "/v1/audio/transcriptions", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	rec.handleTranscribe(w, httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", bytes.NewReader([]byte("x"))))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}
