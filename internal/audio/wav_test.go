package audio

import (
	"math"
	"path/filepath"
	"testing"
)

func sineWave(sampleRate int, seconds, frequency, amplitude float64) []float32 {
	n := int(float64(sampleRate) * seconds)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	samples := sineWave(16000, 0.1, 440, 0.5)

	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wavData) <= len(samples)*2 {
		t.Fatalf("Expected header plus %d bytes of audio, got %d bytes", len(samples)*2, len(wavData))
	}

	if string(wavData[0:4]) != "RIFF" || string(wavData[8:12]) != "WAVE" {
		t.Errorf("Missing RIFF/WAVE header")
	}

	clip, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if clip.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", clip.SampleRate)
	}
	if clip.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", clip.Channels)
	}
	if len(clip.Samples) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(clip.Samples))
	}
	for i := range samples {
		if math.Abs(float64(clip.Samples[i]-samples[i])) > 1.0/16384 {
			t.Fatalf("Sample %d: expected %f, got %f", i, samples[i], clip.Samples[i])
		}
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty samples")
	}

	if _, err := EncodeWAV([]float32{0.1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "garbage", data: []byte("definitely not a wav file, just some text bytes here")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error for invalid WAV data")
			}
		})
	}
}

func TestWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meeting_system.wav")
	samples := sineWave(16000, 0.25, 220, 0.3)

	if err := WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	clip, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}

	if math.Abs(clip.Duration()-0.25) > 1e-3 {
		t.Errorf("Expected duration 0.25s, got %f", clip.Duration())
	}
}

func TestReadWAVFileMissing(t *testing.T) {
	if _, err := ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
