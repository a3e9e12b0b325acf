// Package aec implements acoustic echo cancellation for the microphone stream.
// An NLMS adaptive filter learns the echo path from the system-audio reference,
// with periodic cross-correlation delay estimation and double-talk detection
// that slows adaptation while the local user speaks over remote audio.
package aec
