package aec

import (
	"math"
	"math/rand"
	"testing"
)

func noise(n int, seed int64, amplitude float64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((rng.Float64()*2 - 1) * amplitude)
	}
	return out
}

func mse(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum / float64(len(a))
}

// echoScenario builds voice, reference and mic = voice + gain*reference delayed by delay samples
func echoScenario(n, sampleRate, delay int, gain float64) (voice, reference, mic []float32) {
	reference = noise(n, 7, 0.5)
	voice = make([]float32, n)
	mic = make([]float32, n)
	for i := 0; i < n; i++ {
		voice[i] = float32(0.05 * math.Sin(2*math.Pi*200*float64(i)/float64(sampleRate)))
		var echo float64
		if i >= delay {
			echo = gain * float64(reference[i-delay])
		}
		mic[i] = voice[i] + float32(echo)
	}
	return voice, reference, mic
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		maxDelayMs int
		expected   int
	}{
		{name: "16k 150ms", sampleRate: 16000, maxDelayMs: 150, expected: 2400},
		{name: "16k 100ms", sampleRate: 16000, maxDelayMs: 100, expected: 1600},
		{name: "default delay", sampleRate: 16000, maxDelayMs: 0, expected: 2400},
		{name: "tiny", sampleRate: 100, maxDelayMs: 1, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.sampleRate, tt.maxDelayMs)
			if e.FilterLength() != tt.expected {
				t.Errorf("Expected filter length %d, got %d", tt.expected, e.FilterLength())
			}
			if len(e.reference) != 2*tt.expected {
				t.Errorf("Expected reference history %d, got %d", 2*tt.expected, len(e.reference))
			}
		})
	}
}

func TestProcessOutputLength(t *testing.T) {
	tests := []struct {
		name   string
		micLen int
		refLen int
	}{
		{name: "equal", micLen: 800, refLen: 800},
		{name: "shorter reference", micLen: 800, refLen: 100},
		{name: "longer reference", micLen: 800, refLen: 5000},
		{name: "no reference", micLen: 800, refLen: 0},
		{name: "empty mic", micLen: 0, refLen: 800},
		{name: "single sample", micLen: 1, refLen: 1},
	}

	e := New(8000, 50)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Process(noise(tt.micLen, 1, 0.3), noise(tt.refLen, 2, 0.3))
			if len(out) != tt.micLen {
				t.Errorf("Expected %d output samples, got %d", tt.micLen, len(out))
			}
			if e.FilterLength() != 400 {
				t.Errorf("Filter length changed to %d", e.FilterLength())
			}
		})
	}
}

func TestProcessConvergence(t *testing.T) {
	tests := []struct {
		name  string
		delay int
	}{
		{name: "short delay", delay: 80},
		{name: "delay past half the filter", delay: 350},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const (
				sampleRate = 8000
				block      = 800
				blocks     = 20
			)
			e := New(sampleRate, 50) // 400 taps

			voice, reference, mic := echoScenario(block*blocks, sampleRate, tt.delay, 0.5)

			cleaned := make([]float32, 0, len(mic))
			for b := 0; b < blocks; b++ {
				lo, hi := b*block, (b+1)*block
				cleaned = append(cleaned, e.Process(mic[lo:hi], reference[lo:hi])...)
			}

			if d := e.EstimatedDelay(); d < tt.delay-10 || d > tt.delay+10 {
				t.Errorf("Expected estimated delay ~%d, got %d", tt.delay, d)
			}

			tail := 5 * block
			start := len(mic) - tail
			rawErr := mse(mic[start:], voice[start:])
			cleanErr := mse(cleaned[start:], voice[start:])

			if cleanErr >= rawErr*0.5 {
				t.Errorf("Expected AEC to reduce echo: raw MSE %g, cleaned MSE %g", rawErr, cleanErr)
			}
		})
	}
}

func TestEstimateDelay(t *testing.T) {
	tests := []struct {
		name  string
		delay int
	}{
		{name: "zero", delay: 0},
		{name: "10ms at 16k", delay: 160},
		{name: "120 samples", delay: 120},
		{name: "near max", delay: 390},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reference := noise(4000, 11, 0.5)
			mic := make([]float32, len(reference))
			for i := tt.delay; i < len(mic); i++ {
				mic[i] = reference[i-tt.delay]
			}

			got := EstimateDelay(mic, reference, 400)
			if got < tt.delay-10 || got > tt.delay+10 {
				t.Errorf("Expected delay ~%d, got %d", tt.delay, got)
			}
		})
	}
}

func TestEstimateDelayDegenerate(t *testing.T) {
	if got := EstimateDelay(nil, nil, 100); got != 0 {
		t.Errorf("Expected 0 for empty input, got %d", got)
	}
	if got := EstimateDelay(make([]float32, 10), make([]float32, 10), 0); got != 0 {
		t.Errorf("Expected 0 for zero search range, got %d", got)
	}
}

func TestDetectDoubleTalk(t *testing.T) {
	tests := []struct {
		name     string
		micAmp   float64
		refAmp   float64
		expected bool
	}{
		{name: "user over quiet remote", micAmp: 0.5, refAmp: 0.05, expected: true},
		{name: "user over silence", micAmp: 0.3, refAmp: 0, expected: true},
		{name: "remote louder", micAmp: 0.05, refAmp: 0.5, expected: false},
		{name: "comparable levels", micAmp: 0.3, refAmp: 0.3, expected: false},
		{name: "both silent", micAmp: 0, refAmp: 0, expected: false},
		{name: "mic below floor", micAmp: 0.0001, refAmp: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mic := noise(1600, 3, tt.micAmp)
			ref := noise(1600, 4, tt.refAmp)
			if got := DetectDoubleTalk(mic, ref); got != tt.expected {
				t.Errorf("Expected double-talk %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestProcessIdleLeavesFilterUntouched(t *testing.T) {
	e := New(8000, 50)
	_, reference, mic := echoScenario(1600, 8000, 40, 0.5)

	// Learn something first
	e.Process(mic[:800], reference[:800])
	e.Process(mic[800:], reference[800:])

	before := make([]float64, len(e.filter))
	copy(before, e.filter)

	// A block with no reference energy must not adapt
	silentRef := make([]float32, 800)
	e.Process(noise(800, 9, 0.2), silentRef)

	if e.LastMode() != ModeIdle {
		t.Errorf("Expected idle mode, got %s", e.LastMode())
	}
	for i := range before {
		if before[i] != e.filter[i] {
			t.Fatalf("Filter tap %d changed during idle block: %g -> %g", i, before[i], e.filter[i])
		}
	}
}

func TestProcessPassThroughWithoutReference(t *testing.T) {
	e := New(8000, 50)
	mic := noise(800, 5, 0.3)

	out := e.Process(mic, nil)

	for i := range mic {
		if out[i] != mic[i] {
			t.Fatalf("Sample %d: expected untouched %f, got %f", i, mic[i], out[i])
		}
	}
	if e.LastMode() != ModeIdle {
		t.Errorf("Expected idle mode, got %s", e.LastMode())
	}
}

func TestProcessDoubleTalkMode(t *testing.T) {
	e := New(8000, 50)

	e.Process(noise(800, 1, 0.8), noise(800, 2, 0.05))

	if e.LastMode() != ModeDoubleTalk {
		t.Errorf("Expected double-talk mode, got %s", e.LastMode())
	}

	stats := e.Stats()
	if stats.DoubleTalkBlocks != 1 || stats.Frames != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestReset(t *testing.T) {
	e := New(8000, 50)
	_, reference, mic := echoScenario(2400, 8000, 60, 0.5)
	for b := 0; b < 3; b++ {
		e.Process(mic[b*800:(b+1)*800], reference[b*800:(b+1)*800])
	}

	e.Reset()

	stats := e.Stats()
	if stats.Frames != 0 || stats.EstimatedDelay != 0 || stats.BulkOffset != 0 {
		t.Errorf("Expected zeroed stats after reset, got %+v", stats)
	}
	for i, w := range e.filter {
		if w != 0 {
			t.Fatalf("Filter tap %d not zeroed: %g", i, w)
		}
	}
	for i, s := range e.reference {
		if s != 0 {
			t.Fatalf("Reference sample %d not zeroed: %f", i, s)
		}
	}
	if e.FilterLength() != 400 {
		t.Errorf("Filter length changed to %d", e.FilterLength())
	}
}

func TestReferenceHistoryChronological(t *testing.T) {
	e := New(1000, 5) // 5 taps, 10 history samples

	e.Process(make([]float32, 4), []float32{1, 2, 3, 4})
	e.Process(make([]float32, 4), []float32{5, 6, 7, 8})

	expected := []float32{0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	for i := range expected {
		if e.reference[i] != expected[i] {
			t.Fatalf("History %v, expected %v", e.reference, expected)
		}
	}

	// Longer reference: leading surplus goes to history first
	e.Process(make([]float32, 2), []float32{9, 10, 11, 12})
	expected = []float32{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for i := range expected {
		if e.reference[i] != expected[i] {
			t.Fatalf("History %v, expected %v", e.reference, expected)
		}
	}
}

func TestModeString(t *testing.T) {
	if ModeNormal.String() != "normal" || ModeDoubleTalk.String() != "double_talk" || ModeIdle.String() != "idle" {
		t.Error("Unexpected mode names")
	}
}
