// Package audit implements the append-only action log for the relay.
//
// Every operator action is recorded as one JSON line with a correlation ID,
// user, parameters, outcome and timestamp.
package audit
