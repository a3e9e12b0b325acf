package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skypro1111/dualscribe/internal/transcript"
)

// OperatingSampleRate is the rate every recognizer expects its input at
const OperatingSampleRate = 16000

// Recognizer turns a block of 16 kHz mono samples into timed segments.
// Returned segment times are absolute: offset (seconds) is added to the
// block-relative times the backend reports.
type Recognizer interface {
	Recognize(ctx context.Context, samples []float32, offset float64) ([]transcript.Segment, error)
}

// RecognizerFunc adapts a plain function to the Recognizer interface
type RecognizerFunc func(ctx context.Context, samples []float32, offset float64) ([]transcript.Segment, error)

// Recognize calls f
func (f RecognizerFunc) Recognize(ctx context.Context, samples []float32, offset float64) ([]transcript.Segment, error) {
	return f(ctx, samples, offset)
}

// Config contains recognizer configuration
type Config struct {
	Provider      string // "http" or "openai"
	Endpoint      string
	APIKey        string
	Model         string
	Language      string
	Prompt        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration // Base delay, doubled on every retry
}

// NewRecognizer builds the recognizer selected by config.Provider
func NewRecognizer(config Config) (Recognizer, error) {
	switch config.Provider {
	case "", "http":
		client, err := NewClient(config)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "openai":
		recognizer, err := NewOpenAIRecognizer(config)
		if err != nil {
			return nil, err
		}
		return recognizer, nil
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", config.Provider)
	}
}

// rawSegment is a block-relative segment as reported by a backend
type rawSegment struct {
	Start float64
	End   float64
	Text  string
}

// toSegments shifts backend segments onto the session timeline. When the
// backend reports only text, it becomes a single segment covering the block.
func toSegments(raw []rawSegment, text string, samples int, offset float64) []transcript.Segment {
	if len(raw) == 0 {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		return []transcript.Segment{{
			StartTime: offset,
			EndTime:   offset + float64(samples)/OperatingSampleRate,
			Text:      text,
		}}
	}

	segments := make([]transcript.Segment, 0, len(raw))
	for _, r := range raw {
		segments = append(segments, transcript.Segment{
			StartTime: offset + r.Start,
			EndTime:   offset + r.End,
			Text:      strings.TrimSpace(r.Text),
		})
	}
	return segments
}
