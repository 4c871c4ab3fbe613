// Package stream implements the client-side streaming session.
//
// The Session:
//   - Owns one WebSocket connection to the gateway
//   - Reconnects with exponential backoff (base * 2^(n-1)) up to a
//     bounded attempt count, then reports a terminal error
//   - Queues outbound frames while disconnected (bounded, drop-oldest)
//     and flushes them in FIFO order on reconnect
//   - Encodes frames as base64 inside a JSON envelope
package stream
