// Package live runs the live transcription loop for a recording session.
//
// A Scheduler owns one session at a time. On every tick it drains the
// microphone and system-audio buffers, converts both to 16 kHz mono, removes
// the system-audio echo from the microphone signal, recognizes both streams
// concurrently and emits the surviving segments as "You" (microphone) and
// "Others" (system audio). Each stream keeps its own timeline offset, which
// only moves forward.
package live
