package transcript

import (
	"math"
	"sort"
	"strings"
)

// Speaker labels who produced a segment
type Speaker string

const (
	SpeakerYou    Speaker = "You"
	SpeakerOthers Speaker = "Others"
)

// Source identifies the capture stream a segment was recognized from
type Source string

const (
	SourceMic    Source = "mic"
	SourceSystem Source = "system"
)

// Speaker returns the label used for segments from this source
func (s Source) Speaker() Speaker {
	if s == SourceMic {
		return SpeakerYou
	}
	return SpeakerOthers
}

// Segment is a span of recognized text on the session timeline (seconds)
type Segment struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
	Speaker   Speaker `json:"speaker,omitempty"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Overlap returns how many seconds two segments share, or a negative value if they are disjoint
func (s Segment) Overlap(o Segment) float64 {
	return math.Min(s.EndTime, o.EndTime) - math.Max(s.StartTime, o.StartTime)
}

// Pending is a segment awaiting commit during reconciliation
type Pending struct {
	Segment
	Source Source `json:"source"`
	Origin string `json:"origin,omitempty"` // Recording the segment was recognized from
}

// Label returns copies of segments with the speaker for source applied
func Label(segments []Segment, source Source) []Segment {
	out := make([]Segment, len(segments))
	speaker := source.Speaker()
	for i, seg := range segments {
		seg.Speaker = speaker
		out[i] = seg
	}
	return out
}

// SortByStart orders segments by start time, keeping the original order for ties
func SortByStart(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})
}

// FullText joins segment texts with single spaces
func FullText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// LastEnd returns the end time of the final segment, if any
func LastEnd(segments []Segment) (float64, bool) {
	if len(segments) == 0 {
		return 0, false
	}
	return segments[len(segments)-1].EndTime, true
}
