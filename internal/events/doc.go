// Package events broadcasts transcription updates and reconciliation
// progress to interested clients, in process through Hub subscriptions or
// over a websocket through ServeWS.
package events
