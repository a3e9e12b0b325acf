// Command fake-recognizer is a stand-in transcription endpoint for local runs.
// It accepts the same multipart upload as a real server and answers in
// verbose_json, emitting one segment for every voiced span of the audio.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skypro1111/dualscribe/internal/audio"
	"github.com/skypro1111/dualscribe/internal/transcription"
)

const (
	maxUploadSize = 32 << 20

	// Segment shape, roughly what a real recognizer returns
	maxSegment = 30 * time.Second
	minPause   = 500 * time.Millisecond
)

type recognizer struct {
	logger    *slog.Logger
	threshold float32
	delay     time.Duration
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	threshold := flag.Float64("threshold", 0.01, "RMS level treated as speech")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time per request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	rec := &recognizer{logger: logger, threshold: float32(*threshold), delay: *delay}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", rec.handleTranscribe)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"service":   "fake-recognizer",
			"timestamp": time.Now().UTC(),
		})
	})

	logger.Info("Fake recognizer listening",
		slog.String("address", *addr),
		slog.String("endpoint", "POST /v1/audio/transcriptions"),
	)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (rec *recognizer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	clip, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error decoding WAV: %v", err), http.StatusBadRequest)
		return
	}

	response, err := rec.transcribe(clip, r.FormValue("language"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rec.logger.Info("Transcription request",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Float64("duration", response.Duration),
		slog.Int("segments", len(response.Segments)),
		slog.String("model", r.FormValue("model")),
		slog.String("response_format", r.FormValue("response_format")),
	)

	if rec.delay > 0 {
		select {
		case <-time.After(rec.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// transcribe produces a segment per voiced span of the clip
func (rec *recognizer) transcribe(clip audio.Clip, language string) (*transcription.VerboseResponse, error) {
	mono := clip.Resampled(transcription.OperatingSampleRate)
	rate := transcription.OperatingSampleRate

	chunker, err := audio.NewChunker(audio.ChunkingConfig{
		SampleRate:         rate,
		Threshold:          rec.threshold,
		MaxDuration:        maxSegment,
		MinSilenceDuration: minPause,
	})
	if err != nil {
		return nil, err
	}

	if language == "" {
		language = "en"
	}
	response := &transcription.VerboseResponse{
		Language: language,
		Duration: float64(len(mono)) / float64(rate),
		Segments: []transcription.VerboseSegment{},
	}

	for i, chunk := range chunker.Split(mono) {
		start := chunk.Offset(rate)
		end := start + chunk.Duration(rate)
		text := fmt.Sprintf("speech %d from %.1f to %.1f seconds", i+1, start, end)

		response.Segments = append(response.Segments, transcription.VerboseSegment{Start: start, End: end, Text: text})
		if response.Text != "" {
			response.Text += " "
		}
		response.Text += text
	}

	return response, nil
}
