package toolreg

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is wrapped by an ArgumentError when the model names a
// tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError reports tool arguments that could not be parsed or failed
// schema validation.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// CalculatorError reports a failure inside a tool handler, such as an
// unavailable rate catalog.
type CalculatorError struct {
	Tool string
	Err  error
}

func (e *CalculatorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *CalculatorError) Unwrap() error { return e.Err }
