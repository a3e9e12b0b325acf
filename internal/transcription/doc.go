// Package transcription provides the speech recognizers used by live
// transcription and reconciliation.
//
// Client uploads 16 kHz mono WAV as multipart form data to an HTTP endpoint
// and parses verbose_json segments, retrying server errors with exponential
// backoff and bounding concurrency with a semaphore. OpenAIRecognizer talks
// to an OpenAI-compatible API through go-openai. Both shift block-relative
// segment times by the caller's offset so results land on the session timeline.
package transcription
