// Package vision is the client for the upstream inference service,
// which owns the actual scene description, detection, OCR, and speech
// models. The gateway only ships bytes to it and shapes the results.
//
// Endpoints (JSON in/out, images and audio base64-encoded):
//   - POST /v1/describe
//   - POST /v1/analyze
//   - POST /v1/transcribe
//   - POST /v1/synthesize
package vision
