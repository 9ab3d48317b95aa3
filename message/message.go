// Package message defines the Stratum message model: typed request and
// response messages, the polymorphic result carried by responses, and the
// Marshaller that converts between wire lines and typed messages.
//
// Stratum is a line-oriented JSON protocol. Every message is a single JSON
// object; requests carry "id", "method" and "params", responses carry "id",
// "result" and "error". There is no version field on the wire.
package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Object is a decoded JSON message object. Numbers are json.Number so that
// integer identifiers and parameters survive a round trip unmangled.
type Object map[string]any

// Message is the common surface of Stratum requests and responses.
//
// The identifier is relative to the side of the connection that initiated
// the request. It is empty when the initiator does not expect a response.
type Message interface {
	json.Marshaler

	// ID returns the message identifier, or "" if none was provided.
	ID() string
}

// RequestParser builds a concrete request from a decoded JSON object.
// Registrations on a Marshaller bind a method name to its parser.
type RequestParser func(Object) (Request, error)

// ResponseParser builds a concrete response from a decoded JSON object.
// The parser to use for an inbound response is selected by the pending
// request it answers.
type ResponseParser func(Object) (Response, error)

const (
	keyID     = "id"
	keyMethod = "method"
	keyParams = "params"
	keyResult = "result"
	keyError  = "error"
)

// parseID extracts the "id" field. JSON null maps to the empty identifier;
// numeric identifiers are accepted and stringified.
func parseID(obj Object) (string, error) {
	raw, ok := obj[keyID]
	if !ok {
		return "", newMalformed(obj, fmt.Sprintf("missing '%s'", keyID), nil)
	}

	return stringifyID(raw), nil
}

func stringifyID(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// decodeObject parses a single JSON object from raw bytes, preserving
// numeric fidelity.
func decodeObject(data []byte) (Object, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, newMalformed(string(data), "", err)
	}

	return obj, nil
}
