// Package telemetry distributes relay events to SSE subscribers with
// heartbeats and Last-Event-ID resume.
package telemetry
