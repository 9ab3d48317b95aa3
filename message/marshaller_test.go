package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMiningSubscribeResponse(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	require.NoError(t, m.RegisterPendingRequest("1", BaseResponseParser))

	messages, err := m.Decode(`{"id":1,"result":[["mining.notify","ae6812eb4cd7735a302a8a9dd95cf71f"],"08000002",4],"error":null}`)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	res, ok := messages[0].(Response)
	require.True(t, ok)

	assert.Equal(t, "1", res.ID())
	assert.True(t, res.Successful())

	array, ok := res.Result().(*ArrayResult)
	require.True(t, ok)
	assert.Equal(t, "mining.notify", array.Subject())
	assert.Equal(t, "ae6812eb4cd7735a302a8a9dd95cf71f", array.SubjectKey())
	assert.Equal(t, []any{"08000002", json.Number("4")}, array.Data())
}

func TestDecodeElectrumHistoryResponse(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	require.NoError(t, m.RegisterPendingRequest("42", BaseResponseParser))

	messages, err := m.Decode(`{"id":"42","result":["1DiiVSnksihdpdP1Pex7jghMAZffZiBY9q"],"error":null}`)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	array, ok := messages[0].(Response).Result().(*ArrayResult)
	require.True(t, ok)
	assert.Empty(t, array.Subject())
	assert.Equal(t, []any{"1DiiVSnksihdpdP1Pex7jghMAZffZiBY9q"}, array.Data())
}

func TestDecodeRequestDispatchesRegisteredParser(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	m.RegisterMethod("mining.submit", BaseRequestParser)

	messages, err := m.Decode(`{"id":"4","method":"mining.submit","params":["worker","job1"]}`)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	req, ok := messages[0].(Request)
	require.True(t, ok)
	assert.Equal(t, "mining.submit", req.Method())
	assert.Equal(t, []any{"worker", "job1"}, req.Params())
}

func TestDecodeUnknownMethodIsMalformed(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	_, err := m.Decode(`{"id":"7","method":"bogus","params":[]}`)

	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "bogus", malformed.Method)
}

func TestDecodeUnsolicitedResponseIsMalformed(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	_, err := m.Decode(`{"id":"99","result":true,"error":null}`)

	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
}

func TestDecodeGarbageIsMalformed(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	for _, line := range []string{"not json", `"just a string"`, `[{"id":1},]`} {
		_, err := m.Decode(line)

		var malformed *MalformedMessageError
		require.ErrorAs(t, err, &malformed, "line %q", line)
	}
}

func TestDecodeBatchPreservesOrder(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	m.RegisterMethod("first", BaseRequestParser)
	m.RegisterMethod("second", BaseRequestParser)

	messages, err := m.Decode(`[{"id":null,"method":"first","params":[]},{"id":null,"method":"second","params":[]}]`)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "first", messages[0].(Request).Method())
	assert.Equal(t, "second", messages[1].(Request).Method())
}

func TestPendingRequestIsInvalidatedOnMatch(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	require.NoError(t, m.RegisterPendingRequest("1", BaseResponseParser))

	_, err := m.Decode(`{"id":"1","result":true,"error":null}`)
	require.NoError(t, err)

	// A second response to the same id is now unsolicited.
	_, err = m.Decode(`{"id":"1","result":true,"error":null}`)
	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)

	// And the id can be registered again.
	assert.NoError(t, m.RegisterPendingRequest("1", BaseResponseParser))
}

func TestDuplicatePendingRequest(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	require.NoError(t, m.RegisterPendingRequest("5", BaseResponseParser))

	err := m.RegisterPendingRequest("5", BaseResponseParser)
	assert.ErrorIs(t, err, ErrDuplicatePendingRequest)
}

func TestRegisterPendingRequestRequiresID(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	assert.Error(t, m.RegisterPendingRequest("", BaseResponseParser))
	assert.Error(t, m.RegisterPendingRequest("1", nil))
}

func TestPendingRequestExpiry(t *testing.T) {
	type expiry struct {
		id     string
		expect ResponseParser
	}

	expiries := make(chan expiry, 4)
	m := NewMarshaller(
		WithPendingTimeout(50*time.Millisecond),
		WithExpiryCallback(func(id string, expect ResponseParser) {
			expiries <- expiry{id: id, expect: expect}
		}),
	)
	defer m.Close()

	require.NoError(t, m.RegisterPendingRequest("99", BaseResponseParser))

	select {
	case e := <-expiries:
		assert.Equal(t, "99", e.id)
		assert.NotNil(t, e.expect)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not expire")
	}

	// Exactly one expiry for the one registered request.
	select {
	case e := <-expiries:
		t.Fatalf("unexpected second expiry for %q", e.id)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestAnsweredRequestDoesNotExpire(t *testing.T) {
	expiries := make(chan string, 1)
	m := NewMarshaller(
		WithPendingTimeout(80*time.Millisecond),
		WithExpiryCallback(func(id string, _ ResponseParser) {
			expiries <- id
		}),
	)
	defer m.Close()

	require.NoError(t, m.RegisterPendingRequest("7", BaseResponseParser))

	_, err := m.Decode(`{"id":"7","result":true,"error":null}`)
	require.NoError(t, err)

	select {
	case id := <-expiries:
		t.Fatalf("answered request %q expired", id)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestEncodeRequest(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	req, err := NewRequest("2", "mining.authorize", "worker", "pass")
	require.NoError(t, err)

	line, err := m.Encode(req)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"2","method":"mining.authorize","params":["worker","pass"]}`, line)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewMarshaller()
	defer m.Close()

	m.RegisterMethod("mining.subscribe", BaseRequestParser)

	original, err := NewRequest("10", "mining.subscribe", "agent/1.0")
	require.NoError(t, err)

	line, err := m.Encode(original)
	require.NoError(t, err)

	messages, err := m.Decode(line)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	parsed := messages[0].(Request)
	assert.Equal(t, original.ID(), parsed.ID())
	assert.Equal(t, original.Method(), parsed.Method())
	assert.Equal(t, []any{"agent/1.0"}, parsed.Params())
}
