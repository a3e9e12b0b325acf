package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory keeps segments in process memory. It is the default sink when no
// database is configured.
type Memory struct {
	sessions map[string][]Segment
	closed   bool

	mu sync.RWMutex
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]Segment)}
}

// AddSegment stores one segment
func (m *Memory) AddSegment(ctx context.Context, seg Segment) error {
	return m.AddSegments(ctx, []Segment{seg})
}

// AddSegments stores a batch of segments atomically
func (m *Memory) AddSegments(ctx context.Context, segs []Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now()
	for _, seg := range segs {
		seg = prepare(seg, now)
		m.sessions[seg.SessionID] = append(m.sessions[seg.SessionID], seg)
	}
	return nil
}

// Segments returns a session's segments ordered by start time
func (m *Memory) Segments(ctx context.Context, sessionID string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	stored := m.sessions[sessionID]
	out := make([]Segment, len(stored))
	copy(out, stored)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// ReplaceSegments swaps a session's transcript under one lock
func (m *Memory) ReplaceSegments(ctx context.Context, sessionID string, segs []Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	m.sessions[sessionID] = m.prepareAll(sessionID, segs)
	return nil
}

// ReplaceSourceSegments swaps the segments of one source under one lock
func (m *Memory) ReplaceSourceSegments(ctx context.Context, sessionID, source, sourceID string, segs []Segment) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var deleted int64
	kept := make([]Segment, 0, len(m.sessions[sessionID])+len(segs))
	for _, seg := range m.sessions[sessionID] {
		if seg.Source == source && seg.SourceID == sourceID {
			deleted++
			continue
		}
		kept = append(kept, seg)
	}
	m.sessions[sessionID] = append(kept, m.prepareAll(sessionID, segs)...)
	return deleted, nil
}

// prepareAll stamps a batch for sessionID. Callers hold mu.
func (m *Memory) prepareAll(sessionID string, segs []Segment) []Segment {
	now := time.Now()
	out := make([]Segment, 0, len(segs))
	for _, seg := range segs {
		seg = prepare(seg, now)
		seg.SessionID = sessionID
		out = append(out, seg)
	}
	return out
}

// Close marks the store closed; later writes fail
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
