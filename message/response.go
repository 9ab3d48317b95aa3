package message

import (
	"encoding/json"
	"fmt"
)

// Response is a Stratum response message. The identifier always matches the
// request that triggered it. Exactly one of result and error is set in the
// typical case, but the wire format permits both; the error dominates when
// judging success.
type Response interface {
	Message

	// Result returns the result of the method call, or nil when the
	// response carried no result.
	Result() Result

	// ErrorMessage returns the error reported by the remote end, or ""
	// when the request was processed successfully.
	ErrorMessage() string

	// Successful reports whether the request was processed successfully,
	// which is the case exactly when no error was reported.
	Successful() bool
}

// BaseResponse is the generic response implementation. Concrete variants
// embed it and add typed accessors over the result.
type BaseResponse struct {
	id     string
	result Result
	errMsg string
}

var _ Response = (*BaseResponse)(nil)

// NewResponse builds a successful response carrying the given result. The
// identifier must match the triggering request and cannot be empty.
func NewResponse(id string, result Result) (*BaseResponse, error) {
	return NewResponseWithError(id, result, "")
}

// NewErrorResponse builds a failed response carrying the given error text.
func NewErrorResponse(id string, errMsg string) (*BaseResponse, error) {
	return NewResponseWithError(id, nil, errMsg)
}

// NewResponseWithError builds a response carrying both a result and an
// error, for graceful partial failures.
func NewResponseWithError(id string, result Result, errMsg string) (*BaseResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}

	return &BaseResponse{id: id, result: result, errMsg: errMsg}, nil
}

// NewUnsupportedMethodResponse builds the conventional reply for a request
// naming a method the receiver does not support.
func NewUnsupportedMethodResponse(id string, method string) (*BaseResponse, error) {
	return NewErrorResponse(id, "Method not supported: "+method)
}

// ParseResponse extracts the generic response fields from a decoded JSON
// object: "id" (non-null; numeric identifiers are stringified), "result"
// (handed to the result factory) and "error" (null or a stringifiable
// scalar).
func ParseResponse(obj Object) (*BaseResponse, error) {
	id, err := parseID(obj)
	if err != nil {
		return nil, err
	}

	if id == "" {
		return nil, newMalformed(obj, fmt.Sprintf("'%s' cannot be null", keyID), nil)
	}

	rawResult, ok := obj[keyResult]
	if !ok {
		return nil, newMalformed(obj, fmt.Sprintf("missing '%s'", keyResult), nil)
	}

	result, err := NewResult(rawResult)
	if err != nil {
		return nil, err
	}

	rawErr, ok := obj[keyError]
	if !ok {
		return nil, newMalformed(obj, fmt.Sprintf("missing '%s'", keyError), nil)
	}

	var errMsg string
	if rawErr != nil {
		errMsg = fmt.Sprint(rawErr)
	}

	return &BaseResponse{id: id, result: result, errMsg: errMsg}, nil
}

// BaseResponseParser is a ResponseParser producing the generic
// BaseResponse, for responses that need no variant-specific typing.
func BaseResponseParser(obj Object) (Response, error) {
	return ParseResponse(obj)
}

func (r *BaseResponse) ID() string {
	return r.id
}

func (r *BaseResponse) Result() Result {
	return r.result
}

func (r *BaseResponse) ErrorMessage() string {
	return r.errMsg
}

func (r *BaseResponse) Successful() bool {
	return r.errMsg == ""
}

func (r *BaseResponse) MarshalJSON() ([]byte, error) {
	// Both slots are always written; absent values surface as JSON null.
	var result any
	if r.result != nil {
		result = r.result.JSON()
	}

	var errMsg any
	if r.errMsg != "" {
		errMsg = r.errMsg
	}

	return json.Marshal(struct {
		ID     string `json:"id"`
		Result any    `json:"result"`
		Error  any    `json:"error"`
	}{r.id, result, errMsg})
}
