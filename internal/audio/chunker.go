package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/dualscribe/internal/vad"
)

// ChunkState represents the current state of the chunking process
type ChunkState int

const (
	StateIdle ChunkState = iota
	StateCollecting
	StateWaitingSilence
)

func (s ChunkState) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateWaitingSilence:
		return "waiting_silence"
	default:
		return "idle"
	}
}

// Chunk is a voiced span of a longer recording
type Chunk struct {
	Start   int       // First sample, inclusive
	End     int       // Last sample, exclusive
	Samples []float32 // Shares memory with the input
}

// Offset returns the chunk start in seconds
func (c Chunk) Offset(sampleRate int) float64 {
	return float64(c.Start) / float64(sampleRate)
}

// Duration returns the chunk length in seconds
func (c Chunk) Duration(sampleRate int) float64 {
	return float64(c.End-c.Start) / float64(sampleRate)
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	SampleRate         int
	WindowSize         int     // Samples per energy window
	Threshold          float32 // RMS level treated as speech
	MinDuration        time.Duration
	MaxDuration        time.Duration
	MinSilenceDuration time.Duration
}

// Chunker splits long mono recordings into voiced chunks at pauses, so each
// stays within what a recognizer accepts in one request. Silence between
// chunks is dropped; chunk positions keep the original timeline.
type Chunker struct {
	config ChunkingConfig
	gate   *vad.Processor

	// Per-split state
	state        ChunkState
	chunkStart   int
	speechEnd    int
	silenceStart int

	// Statistics
	chunksCreated uint64
	totalSamples  uint64

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksCreated uint64  `json:"chunks_created"`
	TotalDuration float64 `json:"total_duration_sec"`
	AvgChunkSize  float64 `json:"avg_chunk_duration_sec"`
}

// NewChunker creates a chunker. Zero window size means 20ms windows.
func NewChunker(config ChunkingConfig) (*Chunker, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.WindowSize <= 0 {
		config.WindowSize = config.SampleRate / 50
	}
	if config.MaxDuration <= 0 {
		return nil, fmt.Errorf("max duration must be positive")
	}
	if config.MinDuration > config.MaxDuration {
		return nil, fmt.Errorf("min duration %v exceeds max duration %v", config.MinDuration, config.MaxDuration)
	}

	gate, err := vad.NewProcessor(config.Threshold, config.WindowSize, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create energy gate: %w", err)
	}

	return &Chunker{config: config, gate: gate}, nil
}

// MaxDuration returns the longest chunk the chunker produces
func (c *Chunker) MaxDuration() time.Duration {
	return c.config.MaxDuration
}

// Split returns the voiced chunks of samples in order.
// A span shorter than MinDuration is held back and merged with the speech
// that follows it; at the end of input it is emitted anyway.
func (c *Chunker) Split(samples []float32) []Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.config.WindowSize
	maxLen := c.samplesFor(c.config.MaxDuration)
	minLen := c.samplesFor(c.config.MinDuration)
	minSilence := c.samplesFor(c.config.MinSilenceDuration)

	c.reset()
	var chunks []Chunk

	for start := 0; start < len(samples); start += window {
		end := min(start+window, len(samples))
		voiced := c.gate.HasVoice(samples[start:end])

		switch c.state {
		case StateIdle:
			if voiced {
				c.chunkStart = start
				c.speechEnd = end
				c.state = StateCollecting
			}

		case StateCollecting, StateWaitingSilence:
			if voiced {
				c.speechEnd = end
				c.silenceStart = -1
				c.state = StateCollecting
			} else if c.silenceStart < 0 {
				c.silenceStart = start
			}

			if c.state == StateCollecting && c.silenceStart >= 0 && end-c.silenceStart >= minSilence {
				if c.speechEnd-c.chunkStart >= minLen {
					chunks = append(chunks, c.finalize(samples, c.speechEnd))
					continue
				}
				// Too short to stand alone, wait for more speech
				c.state = StateWaitingSilence
			}
		}

		// Hard cut, mid-speech if need be
		if c.state != StateIdle && end-c.chunkStart >= maxLen {
			cut := end
			if c.silenceStart >= 0 {
				cut = c.speechEnd
			}
			chunks = append(chunks, c.finalize(samples, cut))
		}
	}

	if c.state != StateIdle {
		chunks = append(chunks, c.finalize(samples, c.speechEnd))
	}
	return chunks
}

// finalize emits the open chunk ending at end and returns to idle
func (c *Chunker) finalize(samples []float32, end int) Chunk {
	chunk := Chunk{
		Start:   c.chunkStart,
		End:     end,
		Samples: samples[c.chunkStart:end],
	}

	c.chunksCreated++
	c.totalSamples += uint64(end - c.chunkStart)
	c.reset()
	return chunk
}

// reset returns the chunker to idle for the next chunk
func (c *Chunker) reset() {
	c.state = StateIdle
	c.chunkStart = 0
	c.speechEnd = 0
	c.silenceStart = -1
}

func (c *Chunker) samplesFor(d time.Duration) int {
	return int(d.Seconds() * float64(c.config.SampleRate))
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := float64(c.totalSamples) / float64(c.config.SampleRate)
	avg := float64(0)
	if c.chunksCreated > 0 {
		avg = total / float64(c.chunksCreated)
	}

	return ChunkerStats{
		ChunksCreated: c.chunksCreated,
		TotalDuration: total,
		AvgChunkSize:  avg,
	}
}
