package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Processor gates recognition on audio energy: a block is worth sending to the
// recognizer only if enough of its windows rise above the RMS threshold.
type Processor struct {
	threshold        float32 // RMS threshold, linear full-scale amplitude
	windowSize       int     // Samples per analysis window
	minSpeechWindows int     // Windows above threshold needed to report voice

	// Statistics
	totalBlocks   uint64
	voiceBlocks   uint64
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the analysis of one block of samples
type Result struct {
	HasVoice     bool    `json:"has_voice"`
	PeakRMS      float32 `json:"peak_rms"`
	Windows      int     `json:"windows"`
	VoiceWindows int     `json:"voice_windows"`
}

// ProcessorStats represents gate statistics
type ProcessorStats struct {
	Threshold       float32   `json:"threshold"`
	WindowSize      int       `json:"window_size"`
	TotalBlocks     uint64    `json:"total_blocks"`
	VoiceBlocks     uint64    `json:"voice_blocks"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
}

// NewProcessor creates a new energy gate
func NewProcessor(threshold float32, windowSize, minSpeechWindows int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if minSpeechWindows < 1 {
		minSpeechWindows = 1
	}

	return &Processor{
		threshold:        threshold,
		windowSize:       windowSize,
		minSpeechWindows: minSpeechWindows,
	}, nil
}

// Analyze splits samples into windows and reports whether the block carries voice.
// A trailing partial window is analyzed as its own window.
func (p *Processor) Analyze(samples []float32) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := Result{}
	for start := 0; start < len(samples); start += p.windowSize {
		end := start + p.windowSize
		if end > len(samples) {
			end = len(samples)
		}

		level := rms(samples[start:end])
		if level > result.PeakRMS {
			result.PeakRMS = level
		}
		result.Windows++
		if level >= p.threshold {
			result.VoiceWindows++
		}
	}

	result.HasVoice = result.VoiceWindows >= p.minSpeechWindows

	p.totalBlocks++
	if result.HasVoice {
		p.voiceBlocks++
	}
	p.totalWindows += uint64(result.Windows)
	p.voiceWindows += uint64(result.VoiceWindows)
	p.lastProcessed = time.Now()

	return result
}

// HasVoice is a shorthand for Analyze(samples).HasVoice
func (p *Processor) HasVoice(samples []float32) bool {
	return p.Analyze(samples).HasVoice
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		Threshold:       p.threshold,
		WindowSize:      p.windowSize,
		TotalBlocks:     p.totalBlocks,
		VoiceBlocks:     p.voiceBlocks,
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
	}
}

// Reset resets the processor statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalBlocks = 0
	p.voiceBlocks = 0
	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastProcessed = time.Time{}
}

func rms(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
