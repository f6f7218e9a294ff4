package medium

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized medium errors. Every failure surfacing from a radio stack maps
// to exactly one of these; the engine branches on the code, never on vendor
// message text.
var (
	ErrBusy        = errors.New("BUSY")
	ErrUnavailable = errors.New("UNAVAILABLE")
	ErrInternal    = errors.New("INTERNAL")
)

// StackMap defines the error token mapping for a specific radio stack.
type StackMap struct {
	Busy        []string // Tokens that map to BUSY
	Unavailable []string // Tokens that map to UNAVAILABLE
}

// StackErrorMappings contains the deterministic error mapping tables per stack.
//
// How to extend safely:
// 1. Add new stack entries to this map with specific token arrays
// 2. Test each token against its exact normalized error
// 3. Unknown tokens automatically map to INTERNAL
// 4. Use NormalizeStackErrorFor(err, "stackID") for specific stacks;
//    unknown stack IDs fall back to "generic"
var StackErrorMappings = map[string]StackMap{
	"zephyr": {
		Busy: []string{
			"EBUSY",
			"ADV_SET_ACTIVE",
			"SCAN_IN_PROGRESS",
			"CONTROLLER_BUSY",
			"COMMAND_DISALLOWED",
		},
		Unavailable: []string{
			"EAGAIN",
			"ENODEV",
			"HCI_TIMEOUT",
			"CONTROLLER_OFF",
			"STACK_NOT_READY",
			"REINIT_IN_PROGRESS",
		},
	},
	"generic": {
		Busy: []string{
			"BUSY",
			"RETRY",
			"RATE_LIMIT",
			"IN_PROGRESS",
			"BACKOFF",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"OFFLINE",
			"NOT_READY",
			"DISCONNECTED",
			"CLOSED",
		},
	},
}

// StackError wraps a stack error with its normalized code and the original
// diagnostic preserved.
type StackError struct {
	Code     error // Normalized medium code
	Original error // Stack error
}

func (e *StackError) Error() string {
	return fmt.Sprintf("%v (stack: %v)", e.Code, e.Original)
}

func (e *StackError) Unwrap() error {
	return e.Code
}

// NormalizeStackError maps a stack error to a normalized medium code using
// the generic token table.
func NormalizeStackError(stackErr error) error {
	return NormalizeStackErrorFor(stackErr, "generic")
}

// NormalizeStackErrorFor maps a stack error using a specific stack's table.
func NormalizeStackErrorFor(stackErr error, stackID string) error {
	if stackErr == nil {
		return nil
	}

	return &StackError{
		Code:     mapStackErrorToCode(stackErr.Error(), stackID),
		Original: stackErr,
	}
}

// mapStackErrorToCode maps a stack error message to a normalized code using
// table-driven token matching.
func mapStackErrorToCode(msg string, stackID string) error {
	stackMap, exists := StackErrorMappings[stackID]
	if !exists {
		stackMap = StackErrorMappings["generic"]
	}

	upperMsg := strings.ToUpper(msg)

	for _, token := range stackMap.Busy {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrBusy
		}
	}

	for _, token := range stackMap.Unavailable {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrUnavailable
		}
	}

	// Unknown token maps to INTERNAL
	return ErrInternal
}
