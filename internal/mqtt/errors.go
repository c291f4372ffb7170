package mqtt

import "fmt"

// FatalError ends the process. It is returned by [Link.Run] when the
// broker connection fails in a way rebuilding cannot fix.
type FatalError struct {
	Reason string
	// Code is the broker reason code, or 0 when none was received.
	Code int
	Err  error
}

func (e *FatalError) Error() string {
	msg := "mqtt: " + e.Reason
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
