package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skypro1111/dualscribe/internal/transcript"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript_segments (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	start_time  DOUBLE PRECISION NOT NULL,
	end_time    DOUBLE PRECISION NOT NULL,
	text        TEXT NOT NULL,
	speaker     TEXT,
	source_type TEXT,
	source_id   TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_segments_session ON transcript_segments (session_id, start_time);
CREATE INDEX IF NOT EXISTS idx_transcript_segments_source ON transcript_segments (source_type, source_id);
`

const insertSegment = `
	INSERT INTO transcript_segments (id, session_id, start_time, end_time, text, speaker, source_type, source_id, created_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)`

// Postgres persists segments in PostgreSQL through a pgx connection pool
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an existing pool
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to databaseURL and verifies the connection
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Migrate creates the segments table and its indexes if missing
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// AddSegment inserts one segment
func (p *Postgres) AddSegment(ctx context.Context, seg Segment) error {
	seg = prepare(seg, time.Now())
	_, err := p.db.Exec(ctx, insertSegment,
		seg.ID, seg.SessionID, seg.StartTime, seg.EndTime, seg.Text,
		string(seg.Speaker), seg.Source, seg.SourceID, seg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert segment: %w", err)
	}
	return nil
}

// Segments returns a session's segments ordered by start time
func (p *Postgres) Segments(ctx context.Context, sessionID string) ([]Segment, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, session_id, start_time, end_time, text,
			COALESCE(speaker, ''), COALESCE(source_type, ''), COALESCE(source_id, ''), created_at
		FROM transcript_segments
		WHERE session_id = $1
		ORDER BY start_time ASC, created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var speaker string
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.StartTime, &seg.EndTime, &seg.Text,
			&speaker, &seg.Source, &seg.SourceID, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		seg.Speaker = transcript.Speaker(speaker)
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}

	return segments, nil
}

// ReplaceSegments deletes the session transcript and inserts segs in one transaction
func (p *Postgres) ReplaceSegments(ctx context.Context, sessionID string, segs []Segment) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transcript_segments WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to delete segments: %w", err)
		}
		return insertBatch(ctx, tx, withSession(sessionID, segs))
	})
}

// ReplaceSourceSegments deletes one source's segments and inserts segs in one transaction
func (p *Postgres) ReplaceSourceSegments(ctx context.Context, sessionID, source, sourceID string, segs []Segment) (int64, error) {
	var deleted int64
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM transcript_segments
			WHERE session_id = $1 AND source_type = $2 AND source_id = $3`, sessionID, source, sourceID)
		if err != nil {
			return fmt.Errorf("failed to delete segments by source: %w", err)
		}
		deleted = tag.RowsAffected()
		return insertBatch(ctx, tx, withSession(sessionID, segs))
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// inTx runs fn in a transaction, committing only when it succeeds
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertBatch(ctx context.Context, tx pgx.Tx, segs []Segment) error {
	if len(segs) == 0 {
		return nil
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, seg := range segs {
		seg = prepare(seg, now)
		batch.Queue(insertSegment,
			seg.ID, seg.SessionID, seg.StartTime, seg.EndTime, seg.Text,
			string(seg.Speaker), seg.Source, seg.SourceID, seg.CreatedAt)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert segments: %w", err)
	}
	return nil
}

func withSession(sessionID string, segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	for i, seg := range segs {
		seg.SessionID = sessionID
		out[i] = seg
	}
	return out
}

// Close releases the connection pool
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
