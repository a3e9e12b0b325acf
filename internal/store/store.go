package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/dualscribe/internal/transcript"
)

// Source tags recording where a persisted segment came from
const (
	SourceLive    = "live"
	SourceSegment = "segment"
	SourceUpload  = "upload"
)

// Segment is a persisted transcript segment
type Segment struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	StartTime float64            `json:"start_time"`
	EndTime   float64            `json:"end_time"`
	Text      string             `json:"text"`
	Speaker   transcript.Speaker `json:"speaker,omitempty"`
	Source    string             `json:"source,omitempty"`
	SourceID  string             `json:"source_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Store is the persistence sink for transcript segments.
// Segments are returned ordered by start time regardless of insert order.
type Store interface {
	AddSegment(ctx context.Context, seg Segment) error
	Segments(ctx context.Context, sessionID string) ([]Segment, error)

	// ReplaceSegments swaps a session's whole transcript for segs in one step.
	// On error the previous transcript is left untouched.
	ReplaceSegments(ctx context.Context, sessionID string, segs []Segment) error

	// ReplaceSourceSegments swaps only the session's segments carrying the given
	// source tag and id, returning how many were removed. It is atomic like ReplaceSegments.
	ReplaceSourceSegments(ctx context.Context, sessionID, source, sourceID string, segs []Segment) (int64, error)

	Close() error
}

// NewSegment builds a persisted segment from a transcript segment
func NewSegment(sessionID string, seg transcript.Segment, source, sourceID string) Segment {
	return Segment{
		SessionID: sessionID,
		StartTime: seg.StartTime,
		EndTime:   seg.EndTime,
		Text:      seg.Text,
		Speaker:   seg.Speaker,
		Source:    source,
		SourceID:  sourceID,
	}
}

// Transcript returns the segment without persistence metadata
func (s Segment) Transcript() transcript.Segment {
	return transcript.Segment{
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Text:      s.Text,
		Speaker:   s.Speaker,
	}
}

// prepare fills in the identity and timestamp of a new segment
func prepare(seg Segment, now time.Time) Segment {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = now
	}
	return seg
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
