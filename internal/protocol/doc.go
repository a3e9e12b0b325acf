// Package protocol implements the binary ingest protocol spoken by remote
// capture agents. Every packet carries an 8-byte header naming its type and
// capture source (system audio or microphone), followed by either a format
// announcement or a sequenced block of PCM16 samples.
package protocol
