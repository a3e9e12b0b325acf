// Package transcript defines speaker-labeled transcript segments and the
// post-recognition filters applied to them: recognizer noise markers,
// cross-stream echo suppression, and similarity-based deduplication.
package transcript
