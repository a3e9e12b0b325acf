// Package store persists transcript segments.
//
// Memory is the default sink; Postgres stores segments through a pgx pool.
// Both return a session's segments ordered by start time, which is how
// segments from the two capture streams end up interleaved correctly.
package store
