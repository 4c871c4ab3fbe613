// Package hub is the server side of the gateway: a WebSocket
// connection registry, the envelope dispatcher for frame/audio/message/
// settings payloads, and the HTTP surface around it (/ws,
// /api/settings, /health).
//
// Each client gets a UUID on connect and a welcome caption. Processing
// runs in per-message goroutines; a processor failure is reported to
// the client as {"error": ...} without dropping the connection.
package hub
