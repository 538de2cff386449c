package errcode

// Code is a stable, bus-facing fault identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Setting boundary
	InvalidTarget  Code = "invalid_target"
	InvalidPayload Code = "invalid_payload"
	UnknownSetting Code = "unknown_setting"

	// Solver
	Misconfigured Code = "misconfigured"
	NoTable       Code = "no_table"

	// Inputs
	LinkFault Code = "link_fault"

	// Sequencer
	MotionTimeout Code = "motion_timeout"
	Cancelled     Code = "cancelled"
	Busy          Code = "busy"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
