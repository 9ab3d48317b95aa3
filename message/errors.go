package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDuplicatePendingRequest is returned when a request identifier is
// registered as pending while a prior registration is still unresolved.
var ErrDuplicatePendingRequest = errors.New("request id is already pending")

// MalformedMessageError reports a message that violates the Stratum wire
// grammar, or that a registered parser rejected. It carries the offending
// payload so transports can log the exact bytes that broke the conversation.
type MalformedMessageError struct {
	// Method is the Stratum method being interpreted, if known.
	Method string

	// Detail describes what was wrong with the message, if known.
	Detail string

	// Payload is the offending wire payload.
	Payload string

	cause error
}

func (e *MalformedMessageError) Error() string {
	switch {
	case e.Method != "" && e.Detail != "":
		return fmt.Sprintf("unknown or malformed %q stratum message (%s): %s", e.Method, e.Detail, e.Payload)
	case e.Method != "":
		return fmt.Sprintf("unknown or malformed %q stratum message: %s", e.Method, e.Payload)
	case e.Detail != "":
		return fmt.Sprintf("unknown or malformed stratum message (%s): %s", e.Detail, e.Payload)
	default:
		return fmt.Sprintf("unknown or malformed stratum message: %s", e.Payload)
	}
}

func (e *MalformedMessageError) Unwrap() error {
	return e.cause
}

// newMalformed builds a MalformedMessageError for the given payload, which
// may be a raw wire string or an already-decoded JSON value.
func newMalformed(payload any, detail string, cause error) *MalformedMessageError {
	if detail == "" && cause != nil {
		detail = cause.Error()
	}

	return &MalformedMessageError{
		Detail:  detail,
		Payload: renderPayload(payload),
		cause:   cause,
	}
}

func newMalformedMethod(method string, payload any, detail string) *MalformedMessageError {
	return &MalformedMessageError{
		Method:  method,
		Detail:  detail,
		Payload: renderPayload(payload),
	}
}

func renderPayload(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprint(v)
	}
}
