// Package vad provides an energy-based voice activity gate.
// It splits a block into fixed windows, measures RMS per window, and reports
// whether enough windows exceed the threshold to be worth recognizing.
package vad
