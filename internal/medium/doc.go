// Package medium defines the capability interface between the relay engine
// and the underlying radio medium, plus the shared observation types.
//
// The engine never reaches the radio except through this contract: scanning
// delivers observation events inbound, broadcast sets carry frames outbound.
// Stack errors are normalized to BUSY, UNAVAILABLE and INTERNAL with a
// table-driven token mapping.
package medium
