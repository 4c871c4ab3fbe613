// Package archive persists the gateway's output: captions and object
// detections flow from the hub through a growable ring buffer into a
// batched Postgres writer, and a snapshot poller records gateway
// counters on an interval.
package archive
