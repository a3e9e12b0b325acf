// Package reconcile retranscribes the recorded audio of a session after the
// fact and replaces its live transcript with the result.
//
// Each recording's system audio is recognized before its microphone audio so
// that microphone segments echoing the system audio can be dropped. Segments
// from all recordings are then deduplicated by start time and text similarity
// before the session transcript is rewritten.
package reconcile
