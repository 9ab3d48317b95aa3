package tcp

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gostratum/message"
	"gostratum/transport"
)

// emptyState supplies a post-connect state with no registered vocabulary.
func emptyState(name string) StateFactory {
	return func(t *Transport) transport.ConnectionState {
		return transport.NewConnState(&t.StatefulTransport, name)
	}
}

func TestSendRequiresOpenTransport(t *testing.T) {
	tr := newTransport(emptyState("detached"))

	req, err := message.NewRequest("1", "mining.subscribe")
	require.NoError(t, err)

	assert.ErrorIs(t, tr.SendRequest(req), transport.ErrNotConnected)
	assert.ErrorIs(t, tr.SendRequestExpecting(req, message.BaseResponseParser), transport.ErrNotConnected)
}

func TestWriterEmitsOneLinePerMessage(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	tr := newTransport(emptyState("client"))
	require.NoError(t, tr.open(local))
	defer tr.Close()

	lines := make(chan string, 2)
	go func() {
		reader := bufio.NewReader(remote)
		for i := 0; i < 2; i++ {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	first, err := message.NewRequest("", "foo", 1, "x")
	require.NoError(t, err)
	require.NoError(t, tr.SendRequest(first))

	second, err := message.NewResponse("2", message.NewValueResult(true))
	require.NoError(t, err)
	require.NoError(t, tr.SendResponse(second))

	assert.Equal(t, `{"id":null,"method":"foo","params":[1,"x"]}`+"\n", <-lines)
	assert.Equal(t, `{"id":"2","result":true,"error":null}`+"\n", <-lines)
}

func TestReaderDispatchesBatchInOrder(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	var mu sync.Mutex
	var methods []string

	states := func(t *Transport) transport.ConnectionState {
		s := transport.NewConnState(&t.StatefulTransport, "server")
		for _, m := range []string{"first", "second", "third"} {
			if err := s.RegisterRequestHandler(m, message.BaseRequestParser, func(req message.Request) {
				mu.Lock()
				methods = append(methods, req.Method())
				mu.Unlock()
			}); err != nil {
				panic(err)
			}
		}
		return s
	}

	tr := newTransport(states)
	require.NoError(t, tr.open(local))
	defer tr.Close()

	_, err := remote.Write([]byte(
		`[{"id":null,"method":"first","params":[]},{"id":null,"method":"second","params":[]}]` + "\n" +
			"\n" + // blank lines are ignored
			`{"id":null,"method":"third","params":[]}` + "\n"))
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(methods) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, methods)
}

func TestMalformedLineClosesTransport(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	tr := newTransport(emptyState("server"))
	require.NoError(t, tr.open(local))

	_, err := remote.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return !tr.IsOpen() })
}

func TestSendRequestExpectingRegistersPending(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	tr := newTransport(emptyState("client"))
	require.NoError(t, tr.open(local))
	defer tr.Close()

	go drainLines(remote, 1)

	req, err := message.NewRequest("6", "mining.subscribe")
	require.NoError(t, err)
	require.NoError(t, tr.SendRequestExpecting(req, message.BaseResponseParser))

	// A second registration for the same pending id must be refused.
	err = tr.SendRequestExpecting(req, message.BaseResponseParser)
	assert.ErrorIs(t, err, message.ErrDuplicatePendingRequest)
}

func TestPollForMessagesIsNoOp(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	tr := newTransport(emptyState("client"))
	require.NoError(t, tr.open(local))
	defer tr.Close()

	assert.NoError(t, tr.PollForMessages())
}

func TestCloseIsIdempotent(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	tr := newTransport(emptyState("client"))
	require.NoError(t, tr.open(local))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.False(t, tr.IsOpen())
	assert.Nil(t, tr.CurrentState())

	req, err := message.NewRequest("1", "foo")
	require.NoError(t, err)
	assert.ErrorIs(t, tr.SendRequest(req), transport.ErrNotConnected)
}

func drainLines(conn net.Conn, n int) {
	reader := bufio.NewReader(conn)
	for i := 0; i < n; i++ {
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
