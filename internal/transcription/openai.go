package transcription

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/dualscribe/internal/audio"
	"github.com/skypro1111/dualscribe/internal/transcript"
)

// OpenAIRecognizer recognizes audio with an OpenAI-compatible transcription API
type OpenAIRecognizer struct {
	config    Config
	client    *openai.Client
	semaphore chan struct{}

	stats counters
}

// NewOpenAIRecognizer creates a recognizer backed by go-openai.
// A non-empty Endpoint overrides the API base URL.
func NewOpenAIRecognizer(config Config) (*OpenAIRecognizer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" {
		clientConfig.BaseURL = config.Endpoint
	}

	return &OpenAIRecognizer{
		config:    config,
		client:    openai.NewClientWithConfig(clientConfig),
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Recognize implements Recognizer
func (r *OpenAIRecognizer) Recognize(ctx context.Context, samples []float32, offset float64) ([]transcript.Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	wavData, err := audio.EncodeWAV(samples, OperatingSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	startTime := time.Now()
	r.stats.incrementTotalRequests()

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.config.Model,
		FilePath: uuid.NewString() + ".wav",
		Reader:   bytes.NewReader(wavData),
		Prompt:   r.config.Prompt,
		Language: r.config.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		r.stats.incrementFailedRequests()
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	r.stats.incrementSuccessRequests()
	r.stats.updateAvgResponseTime(time.Since(startTime))

	raw := make([]rawSegment, len(resp.Segments))
	for i, seg := range resp.Segments {
		raw[i] = rawSegment{Start: seg.Start, End: seg.End, Text: seg.Text}
	}
	return toSegments(raw, resp.Text, len(samples), offset), nil
}

// GetStats returns current recognizer statistics
func (r *OpenAIRecognizer) GetStats() ClientStats {
	return r.stats.snapshot(len(r.semaphore))
}
