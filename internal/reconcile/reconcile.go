package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/dualscribe/internal/audio"
	"github.com/skypro1111/dualscribe/internal/events"
	"github.com/skypro1111/dualscribe/internal/metrics"
	"github.com/skypro1111/dualscribe/internal/reporting"
	"github.com/skypro1111/dualscribe/internal/store"
	"github.com/skypro1111/dualscribe/internal/transcript"
	"github.com/skypro1111/dualscribe/internal/transcription"
)

// ErrAlreadyTranscribing is returned while another run is in progress
var ErrAlreadyTranscribing = errors.New("retranscription already running")

// Kind distinguishes captured recordings from uploaded files
type Kind string

const (
	KindRecording Kind = "segment" // Captured mic/system pair
	KindUpload    Kind = "upload"  // Single uploaded file
)

// Recording is one item to retranscribe.
// For uploads only MicPath is used and Speaker labels every segment.
type Recording struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Kind       Kind               `json:"kind,omitempty"`
	MicPath    string             `json:"mic_path"`
	SystemPath string             `json:"system_path,omitempty"`
	Speaker    transcript.Speaker `json:"speaker,omitempty"`
}

// ProgressSink receives progress events
type ProgressSink interface {
	PublishProgress(progress events.Progress)
}

// Deps are the collaborators of a Reconciler. Recognizer and Store are required.
type Deps struct {
	Recognizer transcription.Recognizer
	Store      store.Store
	Events     ProgressSink
	Metrics    *metrics.Metrics
	Reporter   *reporting.Reporter
	Logger     *slog.Logger

	// Recordings longer than the chunker's max duration are split at pauses
	// and recognized piecewise. Nil sends every file in one request.
	Chunker *audio.Chunker
}

// Result summarizes a retranscription run
type Result struct {
	SessionID      string   `json:"session_id"`
	TotalItems     int      `json:"total_items"`
	CompletedItems int      `json:"completed_items"`
	FailedItems    []string `json:"failed_items"`
	Segments       int      `json:"total_segments"`
	Skipped        int      `json:"skipped"`
	Echoes         int      `json:"echoes"`
	Duplicates     int      `json:"duplicates"`
}

// Reconciler retranscribes recorded audio and replaces a session's transcript
type Reconciler struct {
	recog      transcription.Recognizer
	store      store.Store
	events     ProgressSink
	metrics    *metrics.Metrics
	reporter   *reporting.Reporter
	logger     *slog.Logger
	chunker    *audio.Chunker
	sampleRate int

	running atomic.Bool
}

// New creates a reconciler
func New(deps Deps) (*Reconciler, error) {
	if deps.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(nil)
	}

	return &Reconciler{
		recog:      deps.Recognizer,
		store:      deps.Store,
		events:     deps.Events,
		metrics:    deps.Metrics,
		reporter:   deps.Reporter,
		logger:     deps.Logger.With(slog.String("component", "reconcile")),
		chunker:    deps.Chunker,
		sampleRate: transcription.OperatingSampleRate,
	}, nil
}

// IsRunning reports whether a run is in progress
func (r *Reconciler) IsRunning() bool {
	return r.running.Load()
}

// Stats is a snapshot of the reconciler for monitoring
type Stats struct {
	Running bool                `json:"running"`
	Chunker *audio.ChunkerStats `json:"chunker,omitempty"`
}

// Stats returns the run state and, when long recordings are split, chunker counters
func (r *Reconciler) Stats() Stats {
	stats := Stats{Running: r.IsRunning()}
	if r.chunker != nil {
		chunker := r.chunker.GetStats()
		stats.Chunker = &chunker
	}
	return stats
}

// Job is a claimed run. Call one of its methods, or Release, exactly once.
type Job struct {
	r    *Reconciler
	once sync.Once
}

// Begin claims the reconciler for one run. It fails with ErrAlreadyTranscribing
// while another job holds the claim.
func (r *Reconciler) Begin() (*Job, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyTranscribing
	}
	return &Job{r: r}, nil
}

// Release gives the claim back. Extra calls are no-ops.
func (j *Job) Release() {
	j.once.Do(func() { j.r.running.Store(false) })
}

// Retranscribe runs a whole-session retranscription under the job's claim
func (j *Job) Retranscribe(ctx context.Context, sessionID string, recordings []Recording) (Result, error) {
	defer j.Release()
	return j.r.retranscribe(ctx, sessionID, recordings)
}

// RetranscribeRecording runs a single-recording retranscription under the job's claim
func (j *Job) RetranscribeRecording(ctx context.Context, sessionID string, rec Recording, offset float64) (Result, error) {
	defer j.Release()
	return j.r.retranscribeRecording(ctx, sessionID, rec, offset)
}

// Retranscribe recognizes every recording again, laying them end to end on one
// timeline, and replaces all transcript segments of the session with the result.
// A recording whose mic audio cannot be recognized is listed in FailedItems;
// the run still commits what the other recordings produced.
func (r *Reconciler) Retranscribe(ctx context.Context, sessionID string, recordings []Recording) (Result, error) {
	job, err := r.Begin()
	if err != nil {
		return Result{}, err
	}
	return job.Retranscribe(ctx, sessionID, recordings)
}

// RetranscribeRecording recognizes one recording again and replaces only the
// segments previously stored for it, leaving the rest of the session alone.
// offset places the recording on the session timeline. If the recording fails
// its old segments are kept.
func (r *Reconciler) RetranscribeRecording(ctx context.Context, sessionID string, rec Recording, offset float64) (Result, error) {
	job, err := r.Begin()
	if err != nil {
		return Result{}, err
	}
	return job.RetranscribeRecording(ctx, sessionID, rec, offset)
}

func (r *Reconciler) retranscribe(ctx context.Context, sessionID string, recordings []Recording) (Result, error) {
	start := time.Now()
	result := Result{
		SessionID:   sessionID,
		TotalItems:  len(recordings),
		FailedItems: []string{},
	}

	r.logger.Info("Retranscription started",
		slog.String("session_id", sessionID),
		slog.Int("items", len(recordings)),
	)
	r.progress(result, "", false)

	var pending []transcript.Pending
	var timeline float64
	kinds := make(map[string]Kind, len(recordings))

	for i, rec := range recordings {
		if err := ctx.Err(); err != nil {
			r.metrics.RecordReconcileRun("cancelled")
			return result, fmt.Errorf("retranscription cancelled: %w", err)
		}

		name := rec.Name
		if name == "" {
			name = fmt.Sprintf("Recording %d", i+1)
		}
		r.progress(result, name, false)
		kinds[rec.ID] = rec.Kind

		item, err := r.transcribeItem(ctx, sessionID, rec, timeline)
		if err != nil {
			result.FailedItems = append(result.FailedItems, fmt.Sprintf("%s: %v", name, err))
			r.metrics.RecordReconcileItem("failed")
		} else {
			r.metrics.RecordReconcileItem("completed")
		}

		pending = append(pending, item.segments...)
		result.Skipped += item.skipped
		result.Echoes += item.echoes
		timeline += item.duration
		result.CompletedItems++
	}

	survivors, duplicates := transcript.Deduplicate(pending)
	result.Duplicates = duplicates
	r.metrics.RecordDuplicates(duplicates)

	if err := r.commit(ctx, sessionID, survivors, kinds); err != nil {
		r.metrics.RecordReconcileRun("failed")
		r.reporter.Capture(err, map[string]string{"session_id": sessionID, "stage": "reconcile_commit"})
		return result, err
	}
	result.Segments = len(survivors)

	outcome := "success"
	if len(result.FailedItems) > 0 {
		outcome = "partial"
	}
	r.metrics.RecordReconcileRun(outcome)
	r.progress(result, "", true)

	r.logger.Info("Retranscription finished",
		slog.String("session_id", sessionID),
		slog.Int("completed", result.CompletedItems),
		slog.Int("failed", len(result.FailedItems)),
		slog.Int("segments", result.Segments),
		slog.Int("duplicates", duplicates),
		slog.Int("echoes", result.Echoes),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// itemResult is what one recording contributed
type itemResult struct {
	segments []transcript.Pending
	skipped  int
	echoes   int
	duration float64 // Seconds of timeline the recording occupies
}

// transcribeItem recognizes one recording at the given timeline offset.
// System audio is recognized first so mic echoes of it can be dropped.
// Only a mic (or upload) failure fails the item.
func (r *Reconciler) transcribeItem(ctx context.Context, sessionID string, rec Recording, offset float64) (itemResult, error) {
	var item itemResult

	if rec.Kind == KindUpload {
		segments, duration, err := r.transcribeFile(ctx, rec.MicPath, offset)
		item.duration = duration
		if err != nil {
			r.reportItem(sessionID, rec, "upload", err)
			return item, err
		}

		kept, skipped := transcript.DropNoise(segments)
		item.skipped = skipped
		speaker := rec.Speaker
		if speaker == "" {
			speaker = transcript.SpeakerOthers
		}
		for _, seg := range kept {
			seg.Speaker = speaker
			item.segments = append(item.segments, transcript.Pending{Segment: seg, Source: transcript.SourceSystem, Origin: rec.ID})
		}
		r.metrics.RecordSegments("upload", len(kept), skipped, 0)
		return item, nil
	}

	micPath, systemPath := ResolvePaths(rec)

	var systemSegments []transcript.Segment
	if systemPath != "" {
		segments, duration, err := r.transcribeFile(ctx, systemPath, offset)
		item.duration = max(item.duration, duration)
		if err != nil {
			// Mic audio is still usable without the system transcript
			r.reportItem(sessionID, rec, string(transcript.SourceSystem), err)
		} else {
			kept, skipped := transcript.DropNoise(segments)
			item.skipped += skipped
			systemSegments = transcript.Label(kept, transcript.SourceSystem)
			for _, seg := range systemSegments {
				item.segments = append(item.segments, transcript.Pending{Segment: seg, Source: transcript.SourceSystem, Origin: rec.ID})
			}
			r.metrics.RecordSegments(string(transcript.SourceSystem), len(kept), skipped, 0)
		}
	}

	segments, duration, err := r.transcribeFile(ctx, micPath, offset)
	item.duration = max(item.duration, duration)
	if err != nil {
		r.reportItem(sessionID, rec, string(transcript.SourceMic), err)
		return item, fmt.Errorf("mic: %w", err)
	}

	kept, skipped := transcript.DropNoise(segments)
	kept, echoes := transcript.SuppressEchoes(kept, systemSegments)
	item.skipped += skipped
	item.echoes = echoes
	for _, seg := range transcript.Label(kept, transcript.SourceMic) {
		item.segments = append(item.segments, transcript.Pending{Segment: seg, Source: transcript.SourceMic, Origin: rec.ID})
	}
	r.metrics.RecordSegments(string(transcript.SourceMic), len(kept), skipped, echoes)

	if echoes > 0 {
		r.logger.Debug("Filtered echo segments",
			slog.String("session_id", sessionID),
			slog.String("recording_id", rec.ID),
			slog.Int("echoes", echoes),
		)
	}
	return item, nil
}

// transcribeFile decodes a WAV file and recognizes it at the operating rate.
// The duration is returned even when recognition fails so the timeline stays aligned.
func (r *Reconciler) transcribeFile(ctx context.Context, path string, offset float64) ([]transcript.Segment, float64, error) {
	clip, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, 0, err
	}

	samples := clip.Resampled(r.sampleRate)
	duration := clip.Duration()

	if r.chunker == nil || duration <= r.chunker.MaxDuration().Seconds() {
		segments, err := r.recognize(ctx, samples, offset)
		return segments, duration, err
	}

	chunks := r.chunker.Split(samples)
	r.logger.Debug("Split long recording",
		slog.String("path", path),
		slog.Float64("duration", duration),
		slog.Int("chunks", len(chunks)),
	)

	var segments []transcript.Segment
	for i, chunk := range chunks {
		chunkSegments, err := r.recognize(ctx, chunk.Samples, offset+chunk.Offset(r.sampleRate))
		if err != nil {
			return nil, duration, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		segments = append(segments, chunkSegments...)
	}
	return segments, duration, nil
}

func (r *Reconciler) recognize(ctx context.Context, samples []float32, offset float64) ([]transcript.Segment, error) {
	start := time.Now()
	segments, err := r.recog.Recognize(ctx, samples, offset)
	r.metrics.RecordRecognition("reconcile", time.Since(start).Seconds(), err != nil)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}
	return segments, nil
}

// commit replaces the session transcript with segments, in start order
func (r *Reconciler) commit(ctx context.Context, sessionID string, segments []transcript.Pending, kinds map[string]Kind) error {
	rows := make([]store.Segment, 0, len(segments))
	for _, p := range segments {
		rows = append(rows, store.NewSegment(sessionID, p.Segment, sourceTag(kinds[p.Origin]), p.Origin))
	}

	if err := r.store.ReplaceSegments(ctx, sessionID, rows); err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}
	return nil
}

func (r *Reconciler) retranscribeRecording(ctx context.Context, sessionID string, rec Recording, offset float64) (Result, error) {
	if rec.ID == "" {
		return Result{}, fmt.Errorf("recording id is required")
	}

	start := time.Now()
	result := Result{
		SessionID:   sessionID,
		TotalItems:  1,
		FailedItems: []string{},
	}
	name := rec.Name
	if name == "" {
		name = rec.ID
	}
	r.progress(result, name, false)

	item, err := r.transcribeItem(ctx, sessionID, rec, offset)
	result.CompletedItems = 1
	result.Skipped = item.skipped
	result.Echoes = item.echoes
	if err != nil {
		r.metrics.RecordReconcileItem("failed")
		r.metrics.RecordReconcileRun("failed")
		result.FailedItems = append(result.FailedItems, fmt.Sprintf("%s: %v", name, err))
		r.progress(result, "", true)
		return result, nil
	}
	r.metrics.RecordReconcileItem("completed")

	segments := make([]transcript.Pending, len(item.segments))
	copy(segments, item.segments)
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})

	tag := sourceTag(rec.Kind)
	rows := make([]store.Segment, 0, len(segments))
	for _, p := range segments {
		rows = append(rows, store.NewSegment(sessionID, p.Segment, tag, rec.ID))
	}

	replaced, err := r.store.ReplaceSourceSegments(ctx, sessionID, tag, rec.ID, rows)
	if err != nil {
		err = fmt.Errorf("failed to store transcript: %w", err)
		r.metrics.RecordReconcileRun("failed")
		r.reporter.Capture(err, map[string]string{"session_id": sessionID, "recording_id": rec.ID, "stage": "reconcile_commit"})
		return result, err
	}
	result.Segments = len(rows)
	r.metrics.RecordReconcileRun("success")
	r.progress(result, "", true)

	r.logger.Info("Recording retranscribed",
		slog.String("session_id", sessionID),
		slog.String("recording_id", rec.ID),
		slog.Int64("replaced", replaced),
		slog.Int("segments", result.Segments),
		slog.Int("echoes", result.Echoes),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// sourceTag is the store source tag for segments of a recording kind
func sourceTag(kind Kind) string {
	if kind == KindUpload {
		return store.SourceUpload
	}
	return store.SourceSegment
}

func (r *Reconciler) reportItem(sessionID string, rec Recording, source string, err error) {
	r.logger.Error("Failed to transcribe recording",
		slog.String("session_id", sessionID),
		slog.String("recording_id", rec.ID),
		slog.String("source", source),
		slog.String("error", err.Error()),
	)
	r.reporter.Capture(err, map[string]string{
		"session_id":   sessionID,
		"recording_id": rec.ID,
		"source":       source,
		"stage":        "reconcile",
	})
}

func (r *Reconciler) progress(result Result, current string, complete bool) {
	if r.events == nil {
		return
	}
	r.events.PublishProgress(events.Progress{
		SessionID:      result.SessionID,
		TotalItems:     result.TotalItems,
		CompletedItems: result.CompletedItems,
		CurrentItem:    current,
		IsComplete:     complete,
	})
}

// ResolvePaths returns the mic and system files to transcribe for rec.
// Older recordings stored only a merged "{stem}.wav"; when the separate
// "{stem}_mic.wav" and "{stem}_system.wav" still exist next to it they are used instead.
func ResolvePaths(rec Recording) (micPath, systemPath string) {
	if !isLegacyMerged(rec) {
		return rec.MicPath, rec.SystemPath
	}

	dir := filepath.Dir(rec.MicPath)
	stem := strings.TrimSuffix(filepath.Base(rec.MicPath), filepath.Ext(rec.MicPath))

	micPath = rec.MicPath
	if candidate := filepath.Join(dir, stem+"_mic.wav"); fileExists(candidate) {
		micPath = candidate
	}
	if candidate := filepath.Join(dir, stem+"_system.wav"); fileExists(candidate) {
		systemPath = candidate
	}
	return micPath, systemPath
}

func isLegacyMerged(rec Recording) bool {
	return rec.SystemPath == "" &&
		!strings.Contains(rec.MicPath, "_mic_seg") &&
		!strings.Contains(rec.MicPath, "_mic.")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ErrOutsideRoot is returned for recording paths that escape the recordings directory
var ErrOutsideRoot = errors.New("path is outside the recordings directory")

// ConfinePaths resolves the recording's file paths against root and rejects any
// that fall outside it. Relative paths are taken relative to root.
func ConfinePaths(root string, rec Recording) (Recording, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return rec, fmt.Errorf("invalid recordings directory: %w", err)
	}

	confine := func(path string) (string, error) {
		if path == "" {
			return "", nil
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(absRoot, path)
		}
		path = filepath.Clean(path)

		rel, err := filepath.Rel(absRoot, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", ErrOutsideRoot
		}
		return path, nil
	}

	if rec.MicPath, err = confine(rec.MicPath); err != nil {
		return rec, fmt.Errorf("mic_path: %w", err)
	}
	if rec.SystemPath, err = confine(rec.SystemPath); err != nil {
		return rec, fmt.Errorf("system_path: %w", err)
	}
	return rec, nil
}
