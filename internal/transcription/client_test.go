package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/dualscribe/internal/audio"
)

func newTestClient(t *testing.T, endpoint string, retries int) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Endpoint:     endpoint,
		APIKey:       "secret",
		Language:     "en",
		Model:        "whisper-1",
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if client.config.MaxConcurrent != 4 || client.config.Timeout != 30*time.Second {
		t.Errorf("Expected defaults to be applied, got %+v", client.config)
	}
}

func TestRecognizeShiftsSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("Expected verbose_json, got %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("Expected language en, got %q", got)
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file: %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		clip, err := audio.DecodeWAV(data)
		if err != nil {
			t.Errorf("Uploaded file is not a WAV: %v", err)
		}
		if clip.SampleRate != OperatingSampleRate || len(clip.Samples) != 16000 {
			t.Errorf("Unexpected upload: %d Hz, %d samples", clip.SampleRate, len(clip.Samples))
		}

		writeJSON(w, VerboseResponse{
			Text: "hello there. general kenobi",
			Segments: []VerboseSegment{
				{Start: 0, End: 0.6, Text: " hello there."},
				{Start: 0.6, End: 1.0, Text: " general kenobi "},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	segments, err := client.Recognize(context.Background(), make([]float32, 16000), 10)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segments))
	}
	if segments[0].StartTime != 10 || segments[0].EndTime != 10.6 || segments[0].Text != "hello there." {
		t.Errorf("Unexpected first segment: %+v", segments[0])
	}
	if segments[1].StartTime != 10.6 || segments[1].EndTime != 11 || segments[1].Text != "general kenobi" {
		t.Errorf("Unexpected second segment: %+v", segments[1])
	}
}

func TestRecognizeTextOnlyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, VerboseResponse{Text: "  just text  "})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	segments, err := client.Recognize(context.Background(), make([]float32, 32000), 5)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}
	if segments[0].StartTime != 5 || segments[0].EndTime != 7 || segments[0].Text != "just text" {
		t.Errorf("Unexpected segment: %+v", segments[0])
	}
}

func TestRecognizeEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, VerboseResponse{})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	segments, err := client.Recognize(context.Background(), make([]float32, 1600), 0)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("Expected no segments, got %+v", segments)
	}
}

func TestRecognizeEmptySamplesSkipsRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	segments, err := client.Recognize(context.Background(), nil, 0)
	if err != nil || segments != nil {
		t.Errorf("Expected nil result, got %v / %v", segments, err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Expected no request for empty samples")
	}
}

func TestTranscribeRetries(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []int
		retries       int
		expectErr     bool
		expectCalls   int32
		expectRetries uint64
	}{
		{name: "server error then success", statuses: []int{503, 200}, retries: 2, expectErr: false, expectCalls: 2, expectRetries: 1},
		{name: "rate limited then success", statuses: []int{429, 200}, retries: 2, expectErr: false, expectCalls: 2, expectRetries: 1},
		{name: "client error is not retried", statuses: []int{400}, retries: 3, expectErr: true, expectCalls: 1, expectRetries: 0},
		{name: "retries exhausted", statuses: []int{500, 500, 500}, retries: 2, expectErr: true, expectCalls: 3, expectRetries: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				status := tt.statuses[n-1]
				if status != http.StatusOK {
					http.Error(w, "nope", status)
					return
				}
				writeJSON(w, VerboseResponse{Text: "ok"})
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, tt.retries)
			_, err := client.Transcribe(context.Background(), []byte("RIFF"))

			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if got := atomic.LoadInt32(&calls); got != tt.expectCalls {
				t.Errorf("Expected %d calls, got %d", tt.expectCalls, got)
			}

			stats := client.GetStats()
			if stats.TotalRetries != tt.expectRetries {
				t.Errorf("Expected %d retries, got %d", tt.expectRetries, stats.TotalRetries)
			}
			if stats.TotalRequests != 1 {
				t.Errorf("Expected 1 request, got %d", stats.TotalRequests)
			}
		})
	}
}

func TestTranscribeInvalidJSON(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	if _, err := client.Transcribe(context.Background(), []byte("RIFF")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected malformed response not to be retried, got %d calls", got)
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 || stats.SuccessRate != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestTranscribeCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(Config{Endpoint: server.URL, MaxRetries: 5, RetryBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := client.Transcribe(ctx, []byte("RIFF")); err == nil {
		t.Error("Expected error after cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Expected cancellation to interrupt backoff")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "server error", err: &StatusError{StatusCode: 502}, expected: true},
		{name: "rate limit", err: &StatusError{StatusCode: 429}, expected: true},
		{name: "bad request", err: &StatusError{StatusCode: 400}, expected: false},
		{name: "unauthorized", err: &StatusError{StatusCode: 401}, expected: false},
		{name: "cancelled", err: context.Canceled, expected: false},
		{name: "deadline", err: context.DeadlineExceeded, expected: true},
		{name: "transport", err: io.ErrUnexpectedEOF, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCloseWaitsForSlots(t *testing.T) {
	client := newTestClient(t, "http://localhost", 0)
	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if stats := client.GetStats(); stats.ActiveRequests != client.config.MaxConcurrent {
		t.Errorf("Expected all slots held after close, got %d", stats.ActiveRequests)
	}
}
