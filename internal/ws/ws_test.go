package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	engine "github.com/hanpama/gqlinput/internal/engine"
	input "github.com/hanpama/gqlinput/internal/input"
)

type recordingExecutor struct {
	mu     sync.Mutex
	inputs []input.ExecutionInput
	block  chan struct{}
}

func (r *recordingExecutor) Execute(ctx context.Context, in input.ExecutionInput) *engine.Result {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	block := r.block
	r.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return &engine.Result{Data: map[string]any{"id": in.ExecutionID.String()}}
}

func dial(t *testing.T, h *Handler, protocols ...string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	if protocols == nil {
		protocols = []string{Subprotocol}
	}
	d := websocket.Dialer{Subprotocols: protocols, HandshakeTimeout: time.Second}
	c, _, err := d.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestHandler(t *testing.T, exec engine.Executor, opts ...Option) *Handler {
	t.Helper()
	h, err := New(exec, opts...)
	require.NoError(t, err)
	return h
}

func send(t *testing.T, c *websocket.Conn, id, typ string, payload any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(newMessage(id, typ, payload)))
}

func read(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func requireClosed(t *testing.T, c *websocket.Conn, code int) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, code), "got %v", err)
			return
		}
	}
}

func initConn(t *testing.T, c *websocket.Conn) {
	t.Helper()
	send(t, c, "", TypeConnectionInit, nil)
	require.Equal(t, TypeConnectionAck, read(t, c).Type)
}

func TestSubscribeUsesMessageIDAsExecutionID(t *testing.T) {
	rec := &recordingExecutor{}
	c := dial(t, newTestHandler(t, rec))
	initConn(t, c)

	send(t, c, "op-1", TypeSubscribe, input.Request{Query: "{ hello }", Variables: map[string]any{"a": "b"}})
	next := read(t, c)
	require.Equal(t, TypeNext, next.Type)
	require.Equal(t, "op-1", next.ID)
	require.JSONEq(t, `{"data":{"id":"op-1"}}`, string(next.Payload))

	done := read(t, c)
	require.Equal(t, TypeComplete, done.Type)
	require.Equal(t, "op-1", done.ID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.inputs, 1)
	require.Equal(t, map[string]any{"a": "b"}, rec.inputs[0].Variables)
}

func TestNoFallbackGeneratesExecutionID(t *testing.T) {
	rec := &recordingExecutor{}
	c := dial(t, newTestHandler(t, rec, WithRequestIDAsExecutionID(false)))
	initConn(t, c)
	send(t, c, "op-1", TypeSubscribe, input.Request{Query: "{ hello }"})
	next := read(t, c)
	require.Equal(t, TypeNext, next.Type)

	var payload struct {
		Data struct{ ID string } `json:"data"`
	}
	require.NoError(t, json.Unmarshal(next.Payload, &payload))
	require.NotEmpty(t, payload.Data.ID, "a generated id is assigned before execution")
	require.NotEqual(t, "op-1", payload.Data.ID)
}

func TestPingPong(t *testing.T) {
	c := dial(t, newTestHandler(t, &recordingExecutor{}))
	send(t, c, "", TypePing, nil)
	require.Equal(t, TypePong, read(t, c).Type)
}

func TestSubscribeBeforeInit(t *testing.T) {
	c := dial(t, newTestHandler(t, &recordingExecutor{}))
	send(t, c, "op-1", TypeSubscribe, input.Request{Query: "{ hello }"})
	requireClosed(t, c, CloseUnauthorized)
}

func TestRepeatedInit(t *testing.T) {
	c := dial(t, newTestHandler(t, &recordingExecutor{}))
	initConn(t, c)
	send(t, c, "", TypeConnectionInit, nil)
	requireClosed(t, c, CloseTooManyInitRequests)
}

func TestInitRejected(t *testing.T) {
	h := newTestHandler(t, &recordingExecutor{}, WithInit(func(_ context.Context, payload map[string]any) error {
		if payload["token"] != "secret" {
			return errors.New("bad token")
		}
		return nil
	}))
	c := dial(t, h)
	send(t, c, "", TypeConnectionInit, map[string]any{"token": "wrong"})
	requireClosed(t, c, CloseForbidden)

	c = dial(t, h)
	send(t, c, "", TypeConnectionInit, map[string]any{"token": "secret"})
	require.Equal(t, TypeConnectionAck, read(t, c).Type)
}

func TestInitTimeout(t *testing.T) {
	c := dial(t, newTestHandler(t, &recordingExecutor{}, WithInitTimeout(20*time.Millisecond)))
	requireClosed(t, c, CloseInitTimeout)
}

func TestInvalidMessage(t *testing.T) {
	c := dial(t, newTestHandler(t, &recordingExecutor{}))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	requireClosed(t, c, CloseInvalidMessage)
}

func TestWrongSubprotocol(t *testing.T) {
	c := dial(t, newTestHandler(t, &recordingExecutor{}), "graphql-ws")
	requireClosed(t, c, CloseNotAcceptable)
}

func TestDuplicateSubscriber(t *testing.T) {
	rec := &recordingExecutor{block: make(chan struct{})}
	defer close(rec.block)
	c := dial(t, newTestHandler(t, rec))
	initConn(t, c)
	send(t, c, "op-1", TypeSubscribe, input.Request{Query: "{ a }"})
	send(t, c, "op-1", TypeSubscribe, input.Request{Query: "{ b }"})
	requireClosed(t, c, CloseSubscriberExists)
}

func TestClientCompleteSuppressesResult(t *testing.T) {
	// The executor only returns once the operation context is cancelled.
	rec := &recordingExecutor{block: make(chan struct{})}
	defer close(rec.block)
	c := dial(t, newTestHandler(t, rec))
	initConn(t, c)
	send(t, c, "op-1", TypeSubscribe, input.Request{Query: "{ a }"})
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.inputs) == 1
	}, time.Second, 5*time.Millisecond)
	send(t, c, "op-1", TypeComplete, nil)

	send(t, c, "", TypePing, nil)
	require.Equal(t, TypePong, read(t, c).Type, "no next for a completed operation")
}

func TestInterceptorAndConfigurerFailure(t *testing.T) {
	rec := &recordingExecutor{}
	h := newTestHandler(t, rec, WithInterceptors(func(_ context.Context, in *input.Input) error {
		if in.OperationName() == "Denied" {
			return errors.New("denied")
		}
		in.Configure(func(cur input.ExecutionInput) (input.ExecutionInput, error) {
			if _, ok := cur.Variables["boom"]; ok {
				return input.ExecutionInput{}, errors.New("boom")
			}
			return cur, nil
		})
		return nil
	}))
	c := dial(t, h)
	initConn(t, c)

	send(t, c, "op-1", TypeSubscribe, input.Request{Query: "query Denied { a }", OperationName: "Denied"})
	m := read(t, c)
	require.Equal(t, TypeError, m.Type)
	require.Equal(t, "op-1", m.ID)

	send(t, c, "op-2", TypeSubscribe, input.Request{Query: "{ a }", Variables: map[string]any{"boom": true}})
	m = read(t, c)
	require.Equal(t, TypeError, m.Type)
	var errs []map[string]any
	require.NoError(t, json.Unmarshal(m.Payload, &errs))
	require.Equal(t, "CONFIGURER_FAILED", errs[0]["extensions"].(map[string]any)["code"])

	send(t, c, "op-3", TypeSubscribe, input.Request{})
	require.Equal(t, TypeError, read(t, c).Type)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Empty(t, rec.inputs)
}

func TestNewRequiresExecutor(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
