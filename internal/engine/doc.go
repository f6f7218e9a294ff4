// Package engine implements the relay core: observation ingestion, the
// periodic transmission scheduler, the eviction sweep and the health
// watchdog. One Engine owns one observation store and one radio medium.
package engine
