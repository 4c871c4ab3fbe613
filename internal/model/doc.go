// Package model defines shared data types used across the NeuroLens
// streaming platform.
//
// Conventions:
//   - Caption and feedback timestamps: float64 seconds since Unix epoch
//     (matches the wire format the UI consumes)
//   - Frame capture timestamps: int64 milliseconds since Unix epoch
//     (matches what browser clients send)
//   - Bounding boxes: [x1, y1, x2, y2] in pixel coordinates
package model
