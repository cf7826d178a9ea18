package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	events "github.com/hanpama/gqlinput/internal/events"
)

func TestEventsUpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	bus := eventbus.New()
	m.Subscribe(bus)
	defer m.Close()

	ctx := context.Background()
	eventbus.Emit(ctx, bus, events.GraphQLFinish{OperationType: "query", Duration: time.Millisecond})
	eventbus.Emit(ctx, bus, events.GraphQLFinish{OperationType: "query", Errors: []error{errors.New("x")}})
	eventbus.Emit(ctx, bus, events.InputBuildFailed{Reason: events.ReasonInvalidInput, ConfigurerIndex: -1})
	eventbus.Emit(ctx, bus, events.InputBuildFailed{Reason: events.ReasonRejected, ConfigurerIndex: -1})
	eventbus.Emit(ctx, bus, events.InputBuildFailed{Reason: events.ReasonConfigurer, ConfigurerIndex: 2})
	eventbus.Emit(ctx, bus, events.InputBuildFailed{Reason: events.ReasonConfigurer, ConfigurerIndex: 0})
	eventbus.Emit(ctx, bus, events.WSConnect{ConnID: "a"})
	eventbus.Emit(ctx, bus, events.WSConnect{ConnID: "b"})
	eventbus.Emit(ctx, bus, events.WSDisconnect{ConnID: "a"})

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("query", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("query", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.buildFailures.WithLabelValues("invalid_input")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.buildFailures.WithLabelValues("rejected")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.buildFailures.WithLabelValues("configurer")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.wsActive))

	m.Close()
	eventbus.Emit(ctx, bus, events.WSConnect{ConnID: "c"})
	require.Equal(t, 1.0, testutil.ToFloat64(m.wsActive))
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.ObserveOperation("mutation", true, 0)
	require.Equal(t, 1.0, testutil.ToFloat64(second.operations.WithLabelValues("mutation", "ok")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.ObserveOperation("", true, time.Second)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, w.Code)
	require.True(t, strings.Contains(w.Body.String(), `gqlinput_operations_total{status="ok",type="unknown"} 1`))
}
