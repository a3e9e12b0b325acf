package transcript

import "strings"

// Recognizer artifacts emitted for non-speech audio
var noiseMarkers = []string{
	"[blank_audio]",
	"[inaudible]",
	"[ inaudible ]",
	"[silence]",
	"[music]",
	"[applause]",
	"[laughter]",
}

const (
	echoPrefixWords = 5
	echoMinOverlap  = 1.0 // seconds
)

// ShouldSkip reports whether text is a recognizer noise marker or blank
func ShouldSkip(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	lower := strings.ToLower(text)
	for _, marker := range noiseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// DropNoise removes segments ShouldSkip rejects and returns how many were dropped
func DropNoise(segments []Segment) ([]Segment, int) {
	kept := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if ShouldSkip(seg.Text) {
			continue
		}
		kept = append(kept, seg)
	}
	return kept, len(segments) - len(kept)
}

// IsEchoOf reports whether a mic segment repeats a system segment it overlaps in time.
//
// The first five lower-cased words of the mic segment are looked up among the
// first five words of every system segment overlapping it by at least one second.
// Three matches mark an echo, or two when the mic segment has three words or fewer.
func IsEchoOf(mic Segment, system []Segment) bool {
	micWords := prefixWords(mic.Text)
	if len(micWords) == 0 {
		return false
	}

	for _, sys := range system {
		if mic.Overlap(sys) < echoMinOverlap {
			continue
		}

		sysWords := prefixWords(sys.Text)
		matches := 0
		for _, w := range micWords {
			for _, s := range sysWords {
				if w == s {
					matches++
					break
				}
			}
		}

		if matches >= 3 || (matches >= 2 && len(micWords) <= 3) {
			return true
		}
	}
	return false
}

// SuppressEchoes drops mic segments that are echoes of system segments
func SuppressEchoes(mic, system []Segment) ([]Segment, int) {
	if len(system) == 0 {
		return mic, 0
	}

	kept := make([]Segment, 0, len(mic))
	for _, seg := range mic {
		if IsEchoOf(seg, system) {
			continue
		}
		kept = append(kept, seg)
	}
	return kept, len(mic) - len(kept)
}

func prefixWords(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > echoPrefixWords {
		words = words[:echoPrefixWords]
	}
	return words
}
