// Package server publishes monitoring state over HTTP.
//
// It serves the latest snapshot as JSON, streams scheduler events with
// Server-Sent Events, exposes recorded check history and lets operators
// clear a target's backoff. All endpoints live under /api/.
package server
