// Package store implements the bounded observation cache at the heart of the
// relay: a fixed slot array keyed by emitter address, with per-entry duplicate
// suppression over recent sequence markers, hop budgeting, destructive drains
// for transmission, and time-based sweeping of stale entries.
//
// Concurrency: the ingestion path and the scheduler both mutate entries, so
// all slot access funnels through a single store mutex; the live-entry count
// is additionally kept in an atomic so readers never take the lock for it.
package store
