package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/text/language"

	engine "github.com/hanpama/gqlinput/internal/engine"
	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	events "github.com/hanpama/gqlinput/internal/events"
	input "github.com/hanpama/gqlinput/internal/input"
	gqllang "github.com/hanpama/gqlinput/internal/language"
	reqid "github.com/hanpama/gqlinput/internal/reqid"
)

type conn struct {
	h      *Handler
	wc     *websocket.Conn
	id     string
	locale language.Tag
	logger *log.Logger

	send chan Message

	initialized bool // read loop only
	acked       atomic.Bool
	closeCode   atomic.Int64

	mu  sync.Mutex
	ops map[string]context.CancelFunc
	wg  sync.WaitGroup
}

func (c *conn) serve(parent context.Context) {
	start := time.Now()
	ctx, cancel := context.WithCancel(parent)
	eventbus.Publish(ctx, events.WSConnect{ConnID: c.id, Subprotocol: c.wc.Subprotocol()})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	timer := time.AfterFunc(c.h.opt.InitTimeout, func() {
		if !c.acked.Load() {
			c.closeWith(CloseInitTimeout, "Connection initialisation timeout")
		}
	})

	err := c.readLoop(ctx)
	timer.Stop()
	cancel()
	c.wg.Wait()
	close(c.send)
	<-writerDone
	_ = c.wc.Close()

	code := int(c.closeCode.Load())
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
		err = nil
	}
	c.logger.Debug("websocket closed", "code", code, "err", err)
	publishDisconnect(parent, c.id, code, err, start)
}

func (c *conn) writeLoop() {
	broken := false
	for m := range c.send {
		if broken {
			continue
		}
		_ = c.wc.SetWriteDeadline(time.Now().Add(c.h.opt.WriteTimeout))
		if err := c.wc.WriteJSON(m); err != nil {
			c.logger.Debug("websocket write failed", "err", err)
			broken = true
		}
	}
}

// closeWith sends a close frame and closes the socket, which ends the read
// loop. Only the first call has an effect on the recorded code.
func (c *conn) closeWith(code int, reason string) {
	c.closeCode.CompareAndSwap(0, int64(code))
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.wc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.wc.Close()
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.wc.ReadMessage()
		if err != nil {
			return err
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil || m.Type == "" {
			c.closeWith(CloseInvalidMessage, "Invalid message received")
			return nil
		}
		if done := c.handle(ctx, m); done {
			return nil
		}
	}
}

// handle processes one client message and reports whether the connection
// was closed.
func (c *conn) handle(ctx context.Context, m Message) bool {
	switch m.Type {
	case TypeConnectionInit:
		if c.initialized {
			c.closeWith(CloseTooManyInitRequests, "Too many initialisation requests")
			return true
		}
		c.initialized = true
		if fn := c.h.opt.OnInit; fn != nil {
			var payload map[string]any
			if len(m.Payload) > 0 {
				_ = json.Unmarshal(m.Payload, &payload)
			}
			if err := fn(ctx, payload); err != nil {
				c.closeWith(CloseForbidden, "Forbidden")
				return true
			}
		}
		c.acked.Store(true)
		c.send <- newMessage("", TypeConnectionAck, nil)
	case TypePing:
		c.send <- newMessage("", TypePong, nil)
	case TypePong:
	case TypeSubscribe:
		if !c.acked.Load() {
			c.closeWith(CloseUnauthorized, "Unauthorized")
			return true
		}
		if m.ID == "" {
			c.closeWith(CloseInvalidMessage, "Invalid message received")
			return true
		}
		var req input.Request
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			c.closeWith(CloseInvalidMessage, "Invalid message received")
			return true
		}
		opCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		if _, exists := c.ops[m.ID]; exists {
			c.mu.Unlock()
			cancel()
			c.closeWith(CloseSubscriberExists, fmt.Sprintf("Subscriber for %s already exists", m.ID))
			return true
		}
		c.ops[m.ID] = cancel
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.execute(opCtx, m.ID, req)
		}()
	case TypeComplete:
		c.mu.Lock()
		cancel, ok := c.ops[m.ID]
		delete(c.ops, m.ID)
		c.mu.Unlock()
		if ok {
			cancel()
		}
	default:
		c.closeWith(CloseInvalidMessage, "Invalid message received")
		return true
	}
	return false
}

// finish unregisters id and reports whether the client is still waiting
// for it.
func (c *conn) finish(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.ops[id]
	if ok {
		cancel()
		delete(c.ops, id)
	}
	return ok
}

func (c *conn) execute(ctx context.Context, id string, req input.Request) {
	ctx, _ = reqid.WithID(ctx, id)
	logger := c.logger.With("request_id", id)

	fail := func(reason string, idx int, err error, msg string, ext map[string]any) {
		eventbus.Publish(ctx, events.InputBuildFailed{RequestID: id, Transport: "ws", Reason: reason, ConfigurerIndex: idx, Err: err})
		if c.finish(id) {
			c.send <- newMessage(id, TypeError, gqlerror.List{{Message: msg, Extensions: ext}})
		}
	}

	in, err := input.NewFromRequest(req, id, c.locale)
	if err != nil {
		fail(events.ReasonInvalidInput, -1, err, "invalid request: "+err.Error(), nil)
		return
	}
	for _, ic := range c.h.opt.Interceptors {
		if err := ic(ctx, in); err != nil {
			logger.Warn("interceptor rejected operation", "err", err)
			fail(events.ReasonRejected, -1, err, err.Error(), nil)
			return
		}
	}
	ei, err := in.ToExecutionInput(c.h.opt.UseRequestID)
	if err != nil {
		idx := -1
		var ce *input.ConfigurerError
		if errors.As(err, &ce) {
			idx = ce.Index
		}
		logger.Error("execution input build failed", append(in.Fields(), "configurer", idx, "err", err)...)
		fail(events.ReasonConfigurer, idx, err, "failed to prepare operation", map[string]any{"code": "CONFIGURER_FAILED", "configurer": idx})
		return
	}

	ei = engine.AssignExecutionID(ei)
	opType := string(gqllang.OperationType(ei.Query, ei.OperationName))
	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{
		RequestID:     id,
		ExecutionID:   ei.ExecutionID.String(),
		Query:         ei.Query,
		OperationName: ei.OperationName,
		OperationType: opType,
		Transport:     "ws",
	})
	res := c.h.exec.Execute(ctx, ei)
	errs := make([]error, len(res.Errors))
	for i := range res.Errors {
		errs[i] = res.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		RequestID:     id,
		ExecutionID:   ei.ExecutionID.String(),
		Query:         ei.Query,
		OperationName: ei.OperationName,
		OperationType: opType,
		Transport:     "ws",
		Errors:        errs,
		Duration:      time.Since(start),
	})

	if !c.finish(id) {
		logger.Debug("operation completed by client", "duration", time.Since(start))
		return
	}
	if res.Data == nil && len(res.Errors) > 0 {
		c.send <- newMessage(id, TypeError, res.Errors)
		return
	}
	c.send <- newMessage(id, TypeNext, res)
	c.send <- newMessage(id, TypeComplete, nil)
}
