package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Request is a Stratum request message. The identifier may be empty when no
// response is expected; the method name is never empty except on the
// distinguished poll request.
type Request interface {
	Message

	// Method returns the name of the method being invoked.
	Method() string

	// Params returns the ordered parameters being passed to the method.
	Params() []any
}

// nextRequestID feeds NextRequestID. Starts at 1, as the first generated
// identifier should be "1".
var nextRequestID atomic.Uint64

func init() {
	nextRequestID.Store(1)
}

// NextRequestID returns a process-unique identifier for the next
// locally-initiated request. Successive identifiers are strictly increasing
// decimal strings.
func NextRequestID() string {
	return strconv.FormatUint(nextRequestID.Add(1)-1, 10)
}

// BaseRequest is the generic request implementation. Concrete method
// variants embed it and add typed accessors over the parameter list.
type BaseRequest struct {
	id     string
	method string
	params []any
}

var _ Request = (*BaseRequest)(nil)

// NewRequest builds a request with the given identifier, method name, and
// parameters. The identifier may be empty for fire-and-forget requests; the
// method name must not be.
func NewRequest(id string, method string, params ...any) (*BaseRequest, error) {
	if method == "" {
		return nil, fmt.Errorf("method cannot be empty")
	}

	if params == nil {
		params = []any{}
	}

	return &BaseRequest{id: id, method: method, params: params}, nil
}

// ParseRequest extracts the generic request fields from a decoded JSON
// object: "id" (may be null), "method" (non-empty string) and "params"
// (array, possibly empty).
func ParseRequest(obj Object) (*BaseRequest, error) {
	id, err := parseID(obj)
	if err != nil {
		return nil, err
	}

	rawMethod, ok := obj[keyMethod]
	if !ok {
		return nil, newMalformed(obj, fmt.Sprintf("missing '%s'", keyMethod), nil)
	}

	method, ok := rawMethod.(string)
	if !ok {
		return nil, newMalformed(obj, fmt.Sprintf("'%s' is not a string", keyMethod), nil)
	}

	if method == "" {
		return nil, newMalformed(obj, fmt.Sprintf("empty '%s'", keyMethod), nil)
	}

	rawParams, ok := obj[keyParams]
	if !ok {
		return nil, newMalformed(obj, fmt.Sprintf("missing '%s'", keyParams), nil)
	}

	params, ok := rawParams.([]any)
	if !ok {
		return nil, newMalformed(obj, fmt.Sprintf("'%s' is not an array", keyParams), nil)
	}

	return &BaseRequest{id: id, method: method, params: params}, nil
}

func (r *BaseRequest) ID() string {
	return r.id
}

func (r *BaseRequest) Method() string {
	return r.method
}

func (r *BaseRequest) Params() []any {
	return r.params
}

// Param returns the parameter at the given index, or nil when the request
// carries fewer parameters.
func (r *BaseRequest) Param(index int) any {
	if index < 0 || index >= len(r.params) {
		return nil
	}
	return r.params[index]
}

func (r *BaseRequest) MarshalJSON() ([]byte, error) {
	var id any
	if r.id != "" {
		id = r.id
	}

	params := r.params
	if params == nil {
		params = []any{}
	}

	return json.Marshal(struct {
		ID     any    `json:"id"`
		Method string `json:"method"`
		Params []any  `json:"params"`
	}{id, r.method, params})
}

// BaseRequestParser is a RequestParser producing the generic BaseRequest,
// for methods that need no variant-specific typing.
func BaseRequestParser(obj Object) (Request, error) {
	return ParseRequest(obj)
}

// PollRequest is the distinguished request used by polled transports to ask
// the remote end for pending messages. It carries neither identifier nor
// method and serialises to an empty JSON object.
type PollRequest struct {
	BaseRequest
}

var _ Request = (*PollRequest)(nil)

// NewPollRequest returns a new poll request.
func NewPollRequest() *PollRequest {
	return &PollRequest{}
}

func (r *PollRequest) MarshalJSON() ([]byte, error) {
	return []byte("{}"), nil
}
