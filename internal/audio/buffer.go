package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// SampleBuffer is an append-only audio buffer filled by a capture path and
// emptied by the scheduler. Drain takes everything buffered so far and clears it.
type SampleBuffer struct {
	name       string
	sampleRate int
	channels   int

	// Audio data storage (interleaved float32)
	samples []float32

	// Packet tracking for network ingest
	lastSeq      uint32
	haveSeq      bool
	totalPackets uint64
	lostPackets  uint64

	// Counters
	appended   uint64
	drained    uint64
	drainCount uint64
	lastUpdate time.Time
	lastDrain  time.Time

	mu sync.Mutex
}

// Clip is a block of interleaved samples together with its format.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Name         string    `json:"name"`
	SampleRate   int       `json:"sample_rate"`
	Channels     int       `json:"channels"`
	Buffered     int       `json:"buffered_samples"`
	Appended     uint64    `json:"appended_samples"`
	Drained      uint64    `json:"drained_samples"`
	Drains       uint64    `json:"drains"`
	TotalPackets uint64    `json:"total_packets"`
	LostPackets  uint64    `json:"lost_packets"`
	LossRate     float64   `json:"loss_rate"`
	LastSequence uint32    `json:"last_sequence"`
	LastUpdate   time.Time `json:"last_update"`
	LastDrain    time.Time `json:"last_drain"`
}

// NewSampleBuffer creates an empty buffer with the given initial format
func NewSampleBuffer(name string, sampleRate, channels int) *SampleBuffer {
	if channels < 1 {
		channels = 1
	}
	return &SampleBuffer{
		name:       name,
		sampleRate: sampleRate,
		channels:   channels,
		samples:    make([]float32, 0, sampleRate*channels*2), // 2 seconds
	}
}

// Append adds interleaved samples to the end of the buffer
func (b *SampleBuffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)
	b.appended += uint64(len(samples))
	b.lastUpdate = time.Now()
}

// AppendPCM16 appends little-endian 16-bit PCM received in a sequenced packet.
// Packets older than or equal to the last accepted sequence are rejected; forward
// gaps are counted as lost packets.
func (b *SampleBuffer) AppendPCM16(sequence uint32, data []byte) error {
	if len(data)%2 != 0 {
		return fmt.Errorf("audio data length must be even (got %d bytes)", len(data))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.haveSeq && int32(sequence-b.lastSeq) <= 0 {
		return fmt.Errorf("ignoring old/duplicate packet: seq=%d, lastSeq=%d", sequence, b.lastSeq)
	}

	if b.haveSeq {
		b.lostPackets += uint64(sequence - b.lastSeq - 1)
	}
	b.lastSeq = sequence
	b.haveSeq = true
	b.totalPackets++

	samples := PCM16ToFloat32(data)
	b.samples = append(b.samples, samples...)
	b.appended += uint64(len(samples))
	b.lastUpdate = time.Now()

	return nil
}

// Drain removes and returns everything buffered along with the current format
func (b *SampleBuffer) Drain() Clip {
	b.mu.Lock()
	defer b.mu.Unlock()

	clip := Clip{
		Samples:    b.samples,
		SampleRate: b.sampleRate,
		Channels:   b.channels,
	}

	b.drained += uint64(len(b.samples))
	b.drainCount++
	b.lastDrain = time.Now()
	b.samples = make([]float32, 0, cap(b.samples))

	return clip
}

// SetFormat changes the format of samples appended from now on. Samples already
// buffered are converted to the new format so a drain never mixes two formats.
func (b *SampleBuffer) SetFormat(sampleRate, channels int) {
	if channels < 1 {
		channels = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sampleRate == b.sampleRate && channels == b.channels {
		return
	}

	if len(b.samples) > 0 {
		mono := Resample(b.samples, b.sampleRate, sampleRate, b.channels)
		b.samples = expandChannels(mono, channels)
	}
	b.sampleRate = sampleRate
	b.channels = channels
}

// expandChannels interleaves a mono signal into the given number of channels
func expandChannels(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, 0, len(mono)*channels)
	for _, s := range mono {
		for c := 0; c < channels; c++ {
			out = append(out, s)
		}
	}
	return out
}

// Format returns the current sample rate and channel count
func (b *SampleBuffer) Format() (sampleRate, channels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleRate, b.channels
}

// Len returns the number of buffered samples
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Reset discards buffered samples and sequence tracking
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
	b.haveSeq = false
	b.lastSeq = 0
}

// Stats returns current buffer statistics
func (b *SampleBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if total := b.totalPackets + b.lostPackets; total > 0 {
		lossRate = float64(b.lostPackets) / float64(total) * 100
	}

	return BufferStats{
		Name:         b.name,
		SampleRate:   b.sampleRate,
		Channels:     b.channels,
		Buffered:     len(b.samples),
		Appended:     b.appended,
		Drained:      b.drained,
		Drains:       b.drainCount,
		TotalPackets: b.totalPackets,
		LostPackets:  b.lostPackets,
		LossRate:     lossRate,
		LastSequence: b.lastSeq,
		LastUpdate:   b.lastUpdate,
		LastDrain:    b.lastDrain,
	}
}

// PCM16ToFloat32 converts little-endian 16-bit PCM bytes to samples in [-1, 1)
func PCM16ToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// Float32ToPCM16 converts samples to 16-bit integers, clamping to [-1, 1]
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}
