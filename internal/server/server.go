package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"google.golang.org/grpc/metadata"

	engine "github.com/hanpama/gqlinput/internal/engine"
	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	events "github.com/hanpama/gqlinput/internal/events"
	input "github.com/hanpama/gqlinput/internal/input"
	gqllang "github.com/hanpama/gqlinput/internal/language"
	reqid "github.com/hanpama/gqlinput/internal/reqid"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

// Interceptor runs once per operation after the Input is created and before
// it is converted. It typically registers configurers or assigns an
// execution id. Returning an error fails the operation.
type Interceptor func(ctx context.Context, r *http.Request, in *input.Input) error

// Handler is an http.Handler that serves a GraphQL endpoint.
// It decodes requests into input.Input values, builds their execution input
// and hands it to the engine.
type Handler struct {
	exec engine.Executor
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// MetadataHeaders lists HTTP headers to forward into gRPC outgoing
	// metadata and into the "headers" execution input extension.
	// Header names are case-insensitive. Default is none.
	MetadataHeaders []string

	// Interceptors run in order for every operation.
	Interceptors []Interceptor

	// UseRequestID makes the request id the execution id when no explicit
	// one was assigned. Default true.
	UseRequestID bool

	Logger *log.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithInterceptors(ics ...Interceptor) Option {
	return func(o *Options) { o.Interceptors = append(o.Interceptors, ics...) }
}
func WithRequestIDAsExecutionID(enable bool) Option {
	return func(o *Options) { o.UseRequestID = enable }
}
func WithLogger(l *log.Logger) Option { return func(o *Options) { o.Logger = l } }

// New creates a new GraphQL HTTP handler backed by exec.
func New(exec engine.Executor, opts ...Option) (*Handler, error) {
	if exec == nil {
		return nil, errors.New("server: executor is required")
	}
	op := Options{Timeout: 10 * time.Second, UseRequestID: true}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = log.New(io.Discard)
	}
	return &Handler{exec: exec, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.WithID(ctx, r.Header.Get(RequestIDHeader))
	w.Header().Set(RequestIDHeader, rid)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r, RequestID: rid})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, RequestID: rid, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResult("method not allowed", nil), h.opt.Pretty)
		return
	}

	reqs, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, &engine.Result{Errors: gqlerror.List{berr}}, h.opt.Pretty)
		return
	}

	ctx = h.outgoingMetadata(ctx, r, rid)
	locale := input.ParseLocale(r.Header.Get("Accept-Language"))

	if !batch {
		res, st := h.executeOne(ctx, r, reqs[0], rid, locale)
		status = st
		writeJSON(w, status, res, h.opt.Pretty)
		return
	}

	// Batch entries are independent; results keep request order.
	out := make([]*engine.Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range reqs {
		g.Go(func() error {
			out[i], _ = h.executeOne(gctx, r, reqs[i], fmt.Sprintf("%s-%d", rid, i), locale)
			return nil
		})
	}
	_ = g.Wait()
	writeJSON(w, status, out, h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, r *http.Request, req input.Request, id string, locale language.Tag) (*engine.Result, int) {
	logger := h.opt.Logger.With("request_id", id)

	in, err := input.NewFromRequest(req, id, locale)
	if err != nil {
		eventbus.Publish(ctx, events.InputBuildFailed{RequestID: id, Transport: "http", Reason: events.ReasonInvalidInput, ConfigurerIndex: -1, Err: err})
		return errorResult(strings.TrimPrefix(err.Error(), input.ErrInvalidArgument.Error()+": "), nil), http.StatusBadRequest
	}
	for _, ic := range h.opt.Interceptors {
		if err := ic(ctx, r, in); err != nil {
			logger.Warn("interceptor rejected operation", "err", err)
			eventbus.Publish(ctx, events.InputBuildFailed{RequestID: id, Transport: "http", Reason: events.ReasonRejected, ConfigurerIndex: -1, Err: err})
			return errorResult(err.Error(), nil), http.StatusForbidden
		}
	}
	if len(h.opt.MetadataHeaders) > 0 {
		in.Configure(forwardHeaders(r.Header, h.opt.MetadataHeaders))
	}

	ei, err := in.ToExecutionInput(h.opt.UseRequestID)
	if err != nil {
		var ce *input.ConfigurerError
		idx := -1
		if errors.As(err, &ce) {
			idx = ce.Index
		}
		logger.Error("execution input build failed", append(in.Fields(), "configurer", idx, "err", err)...)
		eventbus.Publish(ctx, events.InputBuildFailed{RequestID: id, Transport: "http", Reason: events.ReasonConfigurer, ConfigurerIndex: idx, Err: err})
		return errorResult("failed to prepare operation", map[string]any{"code": "CONFIGURER_FAILED", "configurer": idx}), http.StatusInternalServerError
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
		Transport:     "http",
	})
	res := h.exec.Execute(ctx, ei)
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
		Transport:     "http",
		Errors:        errs,
		Duration:      time.Since(start),
	})
	logger.Debug("operation executed", append(in.Fields(), "errors", len(errs), "duration", time.Since(start))...)
	return res, http.StatusOK
}

// outgoingMetadata maps configured headers and the request id into gRPC
// metadata so resolvers calling gRPC backends propagate them.
func (h *Handler) outgoingMetadata(ctx context.Context, r *http.Request, rid string) context.Context {
	md := metadata.MD{}
	for k, v := range selectHeaders(r.Header, h.opt.MetadataHeaders) {
		md[k] = v
	}
	md["graphql-request-id"] = []string{rid}
	return metadata.NewOutgoingContext(ctx, md)
}

// forwardHeaders returns a configurer storing the selected headers in the
// "headers" extension.
func forwardHeaders(header http.Header, names []string) input.Configurer {
	selected := selectHeaders(header, names)
	return func(cur input.ExecutionInput) (input.ExecutionInput, error) {
		if len(selected) == 0 {
			return cur, nil
		}
		return cur.Transform(func(b *input.Builder) { b.Extension("headers", selected) }), nil
	}
}

func selectHeaders(header http.Header, names []string) map[string][]string {
	if len(names) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(names))
	for _, hdr := range names {
		allowed[strings.ToLower(hdr)] = struct{}{}
	}
	out := map[string][]string{}
	for k, v := range header {
		if _, ok := allowed[strings.ToLower(k)]; ok {
			out[strings.ToLower(k)] = append([]string(nil), v...)
		}
	}
	return out
}

func errorResult(msg string, ext map[string]any) *engine.Result {
	return &engine.Result{Errors: gqlerror.List{{Message: msg, Extensions: ext}}}
}
