package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	engine "github.com/hanpama/gqlinput/internal/engine"
	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	events "github.com/hanpama/gqlinput/internal/events"
	input "github.com/hanpama/gqlinput/internal/input"
)

// Interceptor runs once per subscribe message, after the Input is created
// and before it is converted.
type Interceptor func(ctx context.Context, in *input.Input) error

// InitFunc validates the connection_init payload. An error closes the
// connection with 4403.
type InitFunc func(ctx context.Context, payload map[string]any) error

type Options struct {
	// InitTimeout bounds the wait for connection_init. Default 10s.
	InitTimeout time.Duration

	// WriteTimeout bounds a single frame write. Default 10s.
	WriteTimeout time.Duration

	Interceptors []Interceptor
	OnInit       InitFunc

	// UseRequestID makes the message id the execution id when no explicit
	// one was assigned. Default true.
	UseRequestID bool

	// CheckOrigin is passed to the upgrader. Nil accepts same-origin only.
	CheckOrigin func(r *http.Request) bool

	Logger *log.Logger
}

type Option func(*Options)

func WithInitTimeout(d time.Duration) Option  { return func(o *Options) { o.InitTimeout = d } }
func WithWriteTimeout(d time.Duration) Option { return func(o *Options) { o.WriteTimeout = d } }
func WithInterceptors(ics ...Interceptor) Option {
	return func(o *Options) { o.Interceptors = append(o.Interceptors, ics...) }
}
func WithInit(fn InitFunc) Option { return func(o *Options) { o.OnInit = fn } }
func WithRequestIDAsExecutionID(enable bool) Option {
	return func(o *Options) { o.UseRequestID = enable }
}
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(o *Options) { o.CheckOrigin = fn }
}
func WithLogger(l *log.Logger) Option { return func(o *Options) { o.Logger = l } }

// Handler upgrades HTTP requests and serves the protocol.
type Handler struct {
	exec     engine.Executor
	opt      Options
	upgrader websocket.Upgrader
}

func New(exec engine.Executor, opts ...Option) (*Handler, error) {
	if exec == nil {
		return nil, errors.New("ws: executor is required")
	}
	op := Options{InitTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, UseRequestID: true}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = log.New(io.Discard)
	}
	return &Handler{
		exec: exec,
		opt:  op,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     op.CheckOrigin,
		},
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.opt.Logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	c := &conn{
		h:      h,
		wc:     wc,
		id:     uuid.NewString(),
		locale: input.ParseLocale(r.Header.Get("Accept-Language")),
		send:   make(chan Message, 16),
		ops:    map[string]context.CancelFunc{},
	}
	c.logger = h.opt.Logger.With("conn", c.id)
	if wc.Subprotocol() != Subprotocol {
		c.closeWith(CloseNotAcceptable, "Subprotocol not acceptable")
		_ = wc.Close()
		return
	}
	c.serve(r.Context())
}

func publishDisconnect(ctx context.Context, id string, code int, err error, start time.Time) {
	eventbus.Publish(ctx, events.WSDisconnect{ConnID: id, Code: code, Err: err, Duration: time.Since(start)})
}
