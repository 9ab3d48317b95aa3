package message

import "fmt"

// Result is the payload carried in the result slot of a response. It is a
// tagged sum with two variants: ValueResult wraps a single JSON value
// verbatim, ArrayResult wraps an ordered list of data elements with an
// optional subject tuple prefix.
type Result interface {
	// JSON returns the JSON representation of the result.
	JSON() any
}

// NewResult maps an arbitrary decoded JSON value to the appropriate Result
// variant: arrays become an ArrayResult with subject-tuple detection,
// everything else (scalars, objects, null) becomes a ValueResult.
func NewResult(v any) (Result, error) {
	if arr, ok := v.([]any); ok {
		return parseArrayResult(arr)
	}

	return NewValueResult(v), nil
}

// ValueResult wraps a single JSON value.
type ValueResult struct {
	value any
}

var _ Result = (*ValueResult)(nil)

// NewValueResult returns a result wrapping the provided value verbatim.
func NewValueResult(v any) *ValueResult {
	return &ValueResult{value: v}
}

// Value returns the wrapped value.
func (r *ValueResult) Value() any {
	return r.value
}

func (r *ValueResult) JSON() any {
	return r.value
}

// ArrayResult is an ordered list of data elements with an optional subject
// tuple. The subject provides the receiving party with context about the
// result; the subject key is an opaque token the receiver can quote back
// later in the conversation to reference that context.
//
// With a subject, the serialised form leads with the tuple:
//
//	[["mining.notify", "ae6812eb4cd7735a302a8a9dd95cf71f"], "08000002", 4]
//
// Without one, the array holds only data:
//
//	["1DiiVSnksihdpdP1Pex7jghMAZffZiBY9q"]
type ArrayResult struct {
	subject    string
	subjectKey string
	data       []any
}

var _ Result = (*ArrayResult)(nil)

// NewArrayResult returns a result carrying the given data and no subject.
func NewArrayResult(data ...any) *ArrayResult {
	return &ArrayResult{data: data}
}

// NewSubjectArrayResult returns a result carrying the given subject tuple
// and data. The subject key must be empty when the subject is.
func NewSubjectArrayResult(subject string, subjectKey string, data ...any) (*ArrayResult, error) {
	if subjectKey != "" && subject == "" {
		return nil, fmt.Errorf("subject key cannot be set without a subject")
	}

	return &ArrayResult{subject: subject, subjectKey: subjectKey, data: data}, nil
}

// parseArrayResult interprets a decoded JSON array as an array result. When
// the first element is itself an array it is taken to be the subject tuple:
// one or two elements, the first a string.
func parseArrayResult(arr []any) (*ArrayResult, error) {
	result := &ArrayResult{}
	data := arr

	if len(arr) > 0 {
		if tuple, ok := arr[0].([]any); ok {
			if len(tuple) == 0 || len(tuple) > 2 {
				return nil, newMalformed(arr, "malformed subject tuple", nil)
			}

			subject, ok := tuple[0].(string)
			if !ok {
				return nil, newMalformed(arr, "subject is not a string", nil)
			}
			result.subject = subject

			if len(tuple) == 2 {
				key, ok := tuple[1].(string)
				if !ok {
					return nil, newMalformed(arr, "subject key is not a string", nil)
				}
				result.subjectKey = key
			}

			data = arr[1:]
		}
	}

	result.data = append([]any{}, data...)

	return result, nil
}

// Subject returns the subject of this result, or "" if none was specified.
func (r *ArrayResult) Subject() string {
	return r.subject
}

// SubjectKey returns the subject key of this result, or "" if none was
// specified.
func (r *ArrayResult) SubjectKey() string {
	return r.subjectKey
}

// Data returns the data elements of this result, after any subject tuple.
func (r *ArrayResult) Data() []any {
	return r.data
}

func (r *ArrayResult) JSON() any {
	out := make([]any, 0, len(r.data)+1)

	if r.subject != "" {
		tuple := []any{r.subject}
		if r.subjectKey != "" {
			tuple = append(tuple, r.subjectKey)
		}
		out = append(out, tuple)
	}

	return append(out, r.data...)
}
