package audio

import (
	"encoding/binary"
	"sync"
	"testing"
)

func TestNewSampleBuffer(t *testing.T) {
	buffer := NewSampleBuffer("mic", 48000, 2)

	if buffer == nil {
		t.Fatal("NewSampleBuffer returned nil")
	}

	if buffer.Stats().Name != "mic" {
		t.Errorf("Expected name mic, got %s", buffer.Stats().Name)
	}

	rate, channels := buffer.Format()
	if rate != 48000 || channels != 2 {
		t.Errorf("Expected format 48000/2, got %d/%d", rate, channels)
	}

	if buffer.Len() != 0 {
		t.Errorf("Expected initial length 0, got %d", buffer.Len())
	}
}

func TestSampleBufferClampsChannels(t *testing.T) {
	buffer := NewSampleBuffer("system", 16000, 0)

	if _, channels := buffer.Format(); channels != 1 {
		t.Errorf("Expected channels to default to 1, got %d", channels)
	}

	buffer.SetFormat(44100, -3)
	if rate, channels := buffer.Format(); rate != 44100 || channels != 1 {
		t.Errorf("Expected format 44100/1, got %d/%d", rate, channels)
	}
}

func TestSampleBufferFormatChangeConvertsBuffered(t *testing.T) {
	buffer := NewSampleBuffer("mic", 48000, 2)

	// One second of 48 kHz stereo, then one second of 16 kHz mono
	stereo := make([]float32, 48000*2)
	for i := range stereo {
		stereo[i] = 0.5
	}
	buffer.Append(stereo)
	buffer.SetFormat(16000, 1)
	buffer.Append(make([]float32, 16000))

	clip := buffer.Drain()
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Fatalf("Expected 16000/1, got %d/%d", clip.SampleRate, clip.Channels)
	}
	if len(clip.Samples) != 32000 {
		t.Fatalf("Expected 2 seconds (32000 samples), got %d", len(clip.Samples))
	}
	if clip.Samples[100] != 0.5 {
		t.Errorf("Expected converted sample 0.5, got %v", clip.Samples[100])
	}
	if clip.Samples[20000] != 0 {
		t.Errorf("Expected new-format sample 0, got %v", clip.Samples[20000])
	}
}

func TestSampleBufferFormatChangeToStereo(t *testing.T) {
	buffer := NewSampleBuffer("mic", 16000, 1)
	buffer.Append([]float32{0.1, 0.2, 0.3, 0.4})
	buffer.SetFormat(16000, 2)

	clip := buffer.Drain()
	expected := []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3, 0.4, 0.4}
	if len(clip.Samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(clip.Samples))
	}
	for i, v := range expected {
		if clip.Samples[i] != v {
			t.Errorf("Sample %d: expected %v, got %v", i, v, clip.Samples[i])
		}
	}
}

func TestSampleBufferAppendAndDrain(t *testing.T) {
	buffer := NewSampleBuffer("mic", 16000, 1)

	buffer.Append([]float32{0.1, 0.2})
	buffer.Append(nil)
	buffer.Append([]float32{0.3})

	if buffer.Len() != 3 {
		t.Fatalf("Expected 3 buffered samples, got %d", buffer.Len())
	}

	clip := buffer.Drain()
	if len(clip.Samples) != 3 {
		t.Fatalf("Expected 3 drained samples, got %d", len(clip.Samples))
	}
	expected := []float32{0.1, 0.2, 0.3}
	for i, s := range expected {
		if clip.Samples[i] != s {
			t.Errorf("Sample %d: expected %f, got %f", i, s, clip.Samples[i])
		}
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Errorf("Expected drained format 16000/1, got %d/%d", clip.SampleRate, clip.Channels)
	}

	if buffer.Len() != 0 {
		t.Errorf("Expected buffer to be empty after drain, got %d", buffer.Len())
	}

	// An empty drain is valid
	empty := buffer.Drain()
	if len(empty.Samples) != 0 {
		t.Errorf("Expected empty drain, got %d samples", len(empty.Samples))
	}

	stats := buffer.Stats()
	if stats.Appended != 3 || stats.Drained != 3 || stats.Drains != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSampleBufferDrainDoesNotAlias(t *testing.T) {
	buffer := NewSampleBuffer("mic", 16000, 1)
	buffer.Append([]float32{1, 2, 3})

	clip := buffer.Drain()
	buffer.Append([]float32{9, 9, 9})

	if clip.Samples[0] != 1 || clip.Samples[2] != 3 {
		t.Errorf("Drained samples were modified by a later append: %v", clip.Samples)
	}
}

func TestSampleBufferConcurrentAppend(t *testing.T) {
	buffer := NewSampleBuffer("system", 16000, 1)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buffer.Append(make([]float32, 10))
			}
		}()
	}

	done := make(chan struct{})
	drained := make(chan int)
	go func() {
		total := 0
		for {
			select {
			case <-done:
				drained <- total
				return
			default:
				total += len(buffer.Drain().Samples)
			}
		}
	}()

	wg.Wait()
	close(done)
	total := <-drained + len(buffer.Drain().Samples)

	if total != 8000 {
		t.Errorf("Expected 8000 drained samples, got %d", total)
	}

	stats := buffer.Stats()
	if stats.Appended != 8000 {
		t.Errorf("Expected 8000 appended samples, got %d", stats.Appended)
	}
}

func pcmPacket(values ...int16) []byte {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}

func TestAppendPCM16(t *testing.T) {
	buffer := NewSampleBuffer("mic", 8000, 1)

	if err := buffer.AppendPCM16(100, pcmPacket(16384, -16384)); err != nil {
		t.Fatalf("AppendPCM16 failed: %v", err)
	}

	clip := buffer.Drain()
	if len(clip.Samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(clip.Samples))
	}
	if clip.Samples[0] != 0.5 || clip.Samples[1] != -0.5 {
		t.Errorf("Expected [0.5 -0.5], got %v", clip.Samples)
	}
}

func TestAppendPCM16Sequencing(t *testing.T) {
	tests := []struct {
		name      string
		sequences []uint32
		wantErrs  int
		wantLost  uint64
	}{
		{name: "in order", sequences: []uint32{1, 2, 3}, wantErrs: 0, wantLost: 0},
		{name: "duplicate", sequences: []uint32{1, 2, 2}, wantErrs: 1, wantLost: 0},
		{name: "old packet", sequences: []uint32{5, 6, 4}, wantErrs: 1, wantLost: 0},
		{name: "gap", sequences: []uint32{1, 4, 5}, wantErrs: 0, wantLost: 2},
		{name: "wraparound", sequences: []uint32{0xFFFFFFFF, 0, 1}, wantErrs: 0, wantLost: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer := NewSampleBuffer("system", 8000, 1)
			errs := 0
			for _, seq := range tt.sequences {
				if err := buffer.AppendPCM16(seq, pcmPacket(1, 2)); err != nil {
					errs++
				}
			}
			if errs != tt.wantErrs {
				t.Errorf("Expected %d errors, got %d", tt.wantErrs, errs)
			}
			if lost := buffer.Stats().LostPackets; lost != tt.wantLost {
				t.Errorf("Expected %d lost packets, got %d", tt.wantLost, lost)
			}
		})
	}
}

func TestAppendPCM16OddLength(t *testing.T) {
	buffer := NewSampleBuffer("mic", 8000, 1)

	if err := buffer.AppendPCM16(1, []byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestFloat32ToPCM16Clamps(t *testing.T) {
	out := Float32ToPCM16([]float32{2, -2, 0})

	if out[0] != 32767 {
		t.Errorf("Expected 32767, got %d", out[0])
	}
	if out[1] != -32767 {
		t.Errorf("Expected -32767, got %d", out[1])
	}
	if out[2] != 0 {
		t.Errorf("Expected 0, got %d", out[2])
	}
}
