// Package audio handles sample buffering, rate conversion, and format conversion.
// It provides the drained sample buffers shared between capture and the live scheduler,
// linear-interpolation resampling with channel downmix, WAV encoding/decoding
// for recognizer uploads and recorded audio, and a pause-based chunker that
// splits long recordings before they are sent for recognition.
package audio
