// Package server exposes the service over the network.
//
// UDPServer accepts capture packets from remote agents on a worker pool and
// appends their PCM to the mic and system sample buffers. Packets of one
// source are always handled by the same worker, so sequence order holds.
//
// HTTPServer is the control surface: it starts and stops live sessions,
// serves stored transcripts, launches retranscription and streams updates
// over a websocket, next to the health, stats and Prometheus endpoints.
package server
