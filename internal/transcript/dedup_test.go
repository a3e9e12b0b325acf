package transcript

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "Hello, World!", expected: "hello world"},
		{input: "  multiple   spaces\there ", expected: "multiple spaces here"},
		{input: "It's 5 o'clock.", expected: "its 5 oclock"},
		{input: "...", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{name: "identical", a: "a b c", b: "a b c", expected: 1},
		{name: "disjoint", a: "a b", b: "c d", expected: 0},
		{name: "half", a: "a b c", b: "b c d", expected: 0.5},
		{name: "both empty", a: "", b: "", expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Jaccard = %f, want %f", got, tt.expected)
			}
		})
	}
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Segment
		expected bool
	}{
		{
			name:     "same text same time",
			a:        Segment{StartTime: 1, Text: "Let's review the budget."},
			b:        Segment{StartTime: 2, Text: "let's review the budget"},
			expected: true,
		},
		{
			name:     "containment",
			a:        Segment{StartTime: 5, Text: "review the budget"},
			b:        Segment{StartTime: 6.5, Text: "Okay, let's review the budget now"},
			expected: true,
		},
		{
			name:     "short reply inside a word",
			a:        Segment{StartTime: 20, Text: "No."},
			b:        Segment{StartTime: 20.5, Text: "I know that."},
			expected: false,
		},
		{
			name:     "word prefix is not containment",
			a:        Segment{StartTime: 20, Text: "Yes"},
			b:        Segment{StartTime: 21, Text: "Yesterday we shipped it"},
			expected: false,
		},
		{
			name:     "word suffix is not containment",
			a:        Segment{StartTime: 20, Text: "art"},
			b:        Segment{StartTime: 21, Text: "Let's start the meeting"},
			expected: false,
		},
		{
			name:     "single word containment",
			a:        Segment{StartTime: 20, Text: "No."},
			b:        Segment{StartTime: 21, Text: "No, I don't think so"},
			expected: true,
		},
		{
			name:     "high jaccard",
			a:        Segment{StartTime: 10, Text: "one two three four five six seven eight nine ten"},
			b:        Segment{StartTime: 11, Text: "one two three four five six seven eight nine eleven ten"},
			expected: true,
		},
		{
			name:     "low jaccard",
			a:        Segment{StartTime: 10, Text: "we should ship on friday"},
			b:        Segment{StartTime: 11, Text: "we cannot ship before monday"},
			expected: false,
		},
		{
			name:     "same text too far apart",
			a:        Segment{StartTime: 10, Text: "thank you"},
			b:        Segment{StartTime: 13.5, Text: "thank you"},
			expected: false,
		},
		{
			name:     "exactly three seconds apart",
			a:        Segment{StartTime: 10, Text: "thank you"},
			b:        Segment{StartTime: 13, Text: "thank you"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicate(tt.a, tt.b); got != tt.expected {
				t.Errorf("IsDuplicate(a, b) = %v, want %v", got, tt.expected)
			}
			if got := IsDuplicate(tt.b, tt.a); got != tt.expected {
				t.Errorf("IsDuplicate(b, a) = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDeduplicateKeepsFirst(t *testing.T) {
	a := Pending{Segment: Segment{StartTime: 2, EndTime: 4, Text: "see you tomorrow"}, Source: SourceSystem}
	b := Pending{Segment: Segment{StartTime: 2.5, EndTime: 4, Text: "See you tomorrow!"}, Source: SourceMic}

	for _, order := range [][]Pending{{a, b}, {b, a}} {
		kept, dropped := Deduplicate(order)
		if dropped != 1 || len(kept) != 1 {
			t.Fatalf("Expected exactly one survivor, got %d kept / %d dropped", len(kept), dropped)
		}
		if kept[0] != order[0] {
			t.Errorf("Expected first in processing order to survive, got %+v", kept[0])
		}
	}
}

func TestDeduplicateKeepsShortReply(t *testing.T) {
	pending := []Pending{
		{Segment: Segment{StartTime: 4, EndTime: 5, Text: "I know that."}, Source: SourceSystem},
		{Segment: Segment{StartTime: 4.5, EndTime: 5, Text: "No."}, Source: SourceMic},
	}

	kept, dropped := Deduplicate(pending)
	if dropped != 0 || len(kept) != 2 {
		t.Errorf("Expected both segments kept, got %d kept / %d dropped", len(kept), dropped)
	}
}

func TestDeduplicateSortsByStart(t *testing.T) {
	pending := []Pending{
		{Segment: Segment{StartTime: 30, Text: "third"}, Source: SourceSystem},
		{Segment: Segment{StartTime: 10, Text: "first"}, Source: SourceSystem},
		{Segment: Segment{StartTime: 20, Text: "second"}, Source: SourceMic},
	}

	kept, dropped := Deduplicate(pending)

	if dropped != 0 {
		t.Errorf("Expected nothing dropped, got %d", dropped)
	}
	for i, want := range []string{"first", "second", "third"} {
		if kept[i].Text != want {
			t.Errorf("Position %d: expected %q, got %q", i, want, kept[i].Text)
		}
	}
}
