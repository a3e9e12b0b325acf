package aec

import "math"

const (
	// DefaultMaxDelayMs is the longest echo path the filter covers by default
	DefaultMaxDelayMs = 150

	// DefaultStepSize is the base NLMS learning rate
	DefaultStepSize = 0.1

	// Epsilon regularizes the NLMS normalization and is the idle energy floor
	Epsilon = 1e-8

	// DelayEstimateInterval is the number of blocks between delay re-estimates
	DelayEstimateInterval = 10

	// DoubleTalkRatio is how much louder the mic must be than the reference
	DoubleTalkRatio = 3.0

	// DoubleTalkFloor is the minimum mic energy for double-talk
	DoubleTalkFloor = 1e-6

	doubleTalkStepScale = 0.1
)

// Mode is the adaptation mode selected for a processed block
type Mode int

const (
	ModeNormal Mode = iota
	ModeDoubleTalk
	ModeIdle
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDoubleTalk:
		return "double_talk"
	case ModeIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Engine removes the echo of a reference signal from microphone blocks.
//
// The filter spans filterLen taps placed at a bulk offset derived from the
// estimated delay, so echo paths up to the configured maximum delay are covered.
// Engine is not safe for concurrent use; it is owned by a single scheduler.
type Engine struct {
	sampleRate int
	filterLen  int
	stepSize   float64

	filter []float64

	// reference holds the most recent 2*filterLen reference samples, oldest first
	reference []float32

	estimatedDelay int
	bulkOffset     int
	frameCount     uint64

	lastMode         Mode
	normalBlocks     uint64
	doubleTalkBlocks uint64
	idleBlocks       uint64
}

// Stats is a snapshot of engine state for monitoring
type Stats struct {
	SampleRate       int    `json:"sample_rate"`
	FilterLength     int    `json:"filter_length"`
	EstimatedDelay   int    `json:"estimated_delay_samples"`
	BulkOffset       int    `json:"bulk_offset_samples"`
	Frames           uint64 `json:"frames"`
	LastMode         string `json:"last_mode"`
	NormalBlocks     uint64 `json:"normal_blocks"`
	DoubleTalkBlocks uint64 `json:"double_talk_blocks"`
	IdleBlocks       uint64 `json:"idle_blocks"`
}

// New creates an engine covering echo delays up to maxDelayMs with the default step size
func New(sampleRate, maxDelayMs int) *Engine {
	return NewWithStep(sampleRate, maxDelayMs, DefaultStepSize)
}

// NewWithStep creates an engine with an explicit base step size
func NewWithStep(sampleRate, maxDelayMs int, stepSize float64) *Engine {
	if maxDelayMs <= 0 {
		maxDelayMs = DefaultMaxDelayMs
	}
	if stepSize <= 0 {
		stepSize = DefaultStepSize
	}

	filterLen := sampleRate * maxDelayMs / 1000
	if filterLen < 1 {
		filterLen = 1
	}

	return &Engine{
		sampleRate: sampleRate,
		filterLen:  filterLen,
		stepSize:   stepSize,
		filter:     make([]float64, filterLen),
		reference:  make([]float32, 2*filterLen),
	}
}

// Process returns mic with the estimated echo of reference subtracted.
// The output always has len(mic) samples. A reference longer than mic has its
// leading surplus treated as earlier history; a shorter one is padded with silence.
func (e *Engine) Process(mic, reference []float32) []float32 {
	out := make([]float32, len(mic))
	if len(mic) == 0 {
		e.pushReference(reference)
		return out
	}

	m := len(mic)
	aligned := make([]float32, m)
	if len(reference) > m {
		e.pushReference(reference[:len(reference)-m])
		copy(aligned, reference[len(reference)-m:])
	} else {
		copy(aligned, reference)
	}

	// ext = history followed by the block aligned with mic; mic[i] lines up with ext[h+i]
	h := len(e.reference)
	ext := make([]float32, h+m)
	copy(ext, e.reference)
	copy(ext[h:], aligned)

	if e.frameCount%DelayEstimateInterval == 0 {
		w := m
		if w > h {
			w = h
		}
		e.estimatedDelay = correlate(mic[:w], ext, h, e.filterLen)
		e.realign(e.offsetForDelay(e.estimatedDelay))
	}

	mode := ModeNormal
	if meanSquare(aligned) <= Epsilon {
		mode = ModeIdle
	} else if DetectDoubleTalk(mic, aligned) {
		mode = ModeDoubleTalk
	}

	step := e.stepSize
	if mode == ModeDoubleTalk {
		step *= doubleTalkStepScale
	}

	L := e.filterLen
	o := e.bulkOffset

	var power float64
	for k := 0; k < L; k++ {
		v := float64(ext[h-o-k])
		power += v * v
	}

	for i := 0; i < m; i++ {
		n := h + i - o
		if i > 0 {
			in := float64(ext[n])
			old := float64(ext[n-L])
			power += in*in - old*old
			if power < 0 {
				power = 0
			}
		}

		var estimate float64
		for k := 0; k < L; k++ {
			estimate += e.filter[k] * float64(ext[n-k])
		}

		residual := float64(mic[i]) - estimate
		out[i] = float32(residual)

		if mode == ModeIdle || power <= Epsilon {
			continue
		}
		g := step * residual / (power + Epsilon)
		for k := 0; k < L; k++ {
			e.filter[k] += g * float64(ext[n-k])
		}
	}

	copy(e.reference, ext[len(ext)-h:])
	e.frameCount++
	e.record(mode)

	return out
}

// Reset zeroes the filter and reference history and restarts delay estimation
func (e *Engine) Reset() {
	for i := range e.filter {
		e.filter[i] = 0
	}
	for i := range e.reference {
		e.reference[i] = 0
	}
	e.estimatedDelay = 0
	e.bulkOffset = 0
	e.frameCount = 0
	e.lastMode = ModeNormal
	e.normalBlocks = 0
	e.doubleTalkBlocks = 0
	e.idleBlocks = 0
}

// FilterLength returns the fixed number of filter taps
func (e *Engine) FilterLength() int {
	return e.filterLen
}

// EstimatedDelay returns the last estimated echo delay in samples
func (e *Engine) EstimatedDelay() int {
	return e.estimatedDelay
}

// LastMode returns the mode used for the most recent block
func (e *Engine) LastMode() Mode {
	return e.lastMode
}

// Stats returns a snapshot of the engine state
func (e *Engine) Stats() Stats {
	return Stats{
		SampleRate:       e.sampleRate,
		FilterLength:     e.filterLen,
		EstimatedDelay:   e.estimatedDelay,
		BulkOffset:       e.bulkOffset,
		Frames:           e.frameCount,
		LastMode:         e.lastMode.String(),
		NormalBlocks:     e.normalBlocks,
		DoubleTalkBlocks: e.doubleTalkBlocks,
		IdleBlocks:       e.idleBlocks,
	}
}

func (e *Engine) record(mode Mode) {
	e.lastMode = mode
	switch mode {
	case ModeNormal:
		e.normalBlocks++
	case ModeDoubleTalk:
		e.doubleTalkBlocks++
	case ModeIdle:
		e.idleBlocks++
	}
}

// pushReference shift-appends samples into the history, dropping the oldest
func (e *Engine) pushReference(samples []float32) {
	if len(samples) == 0 {
		return
	}
	h := len(e.reference)
	if len(samples) >= h {
		copy(e.reference, samples[len(samples)-h:])
		return
	}
	copy(e.reference, e.reference[len(samples):])
	copy(e.reference[h-len(samples):], samples)
}

// offsetForDelay centres the filter window on the estimated delay
func (e *Engine) offsetForDelay(delay int) int {
	o := delay - e.filterLen/2
	if o < 0 {
		return 0
	}
	return o
}

// realign moves the filter window to a new bulk offset, shifting weights so
// taps that still cover the same lag keep what they learned
func (e *Engine) realign(offset int) {
	delta := offset - e.bulkOffset
	if delta == 0 {
		return
	}

	shifted := make([]float64, e.filterLen)
	for k := range shifted {
		src := k + delta
		if src >= 0 && src < e.filterLen {
			shifted[k] = e.filter[src]
		}
	}
	e.filter = shifted
	e.bulkOffset = offset
}

// EstimateDelay returns the lag in [0, maxLag) at which reference best matches mic,
// assuming mic[i] corresponds to reference[i-lag].
func EstimateDelay(mic, reference []float32, maxLag int) int {
	if maxLag < 1 {
		return 0
	}
	return correlate(mic, reference, 0, maxLag)
}

// correlate scores lags d in [0, maxLag) by sum(mic[i] * ref[base+i-d]) and
// returns the best one. Out-of-range reference samples contribute nothing.
func correlate(mic, ref []float32, base, maxLag int) int {
	best := 0
	bestScore := math.Inf(-1)

	for d := 0; d < maxLag; d++ {
		var score float64
		for i, v := range mic {
			j := base + i - d
			if j < 0 {
				continue
			}
			if j >= len(ref) {
				break
			}
			score += float64(v) * float64(ref[j])
		}
		if score > bestScore {
			best = d
			bestScore = score
		}
	}

	return best
}

// DetectDoubleTalk reports whether the mic block is much louder than the reference,
// meaning the local user is talking over the remote audio.
func DetectDoubleTalk(mic, reference []float32) bool {
	micEnergy := meanSquare(mic)
	refEnergy := meanSquare(reference)
	return micEnergy > DoubleTalkRatio*refEnergy && micEnergy > DoubleTalkFloor
}

func meanSquare(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}
