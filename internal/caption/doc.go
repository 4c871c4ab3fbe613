// Package caption turns detection results into captions and spoken
// feedback: spatial hints (direction, estimated distance), privacy
// classification of recognized text, and the priority ordering of what
// gets surfaced to the user.
package caption
