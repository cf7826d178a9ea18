package main

import (
	"context"

	"github.com/charmbracelet/log"

	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	events "github.com/hanpama/gqlinput/internal/events"
)

// logEvents logs operation outcomes and connection lifecycle from b. The
// returned function unsubscribes.
func logEvents(b *eventbus.Bus, logger *log.Logger) func() {
	unsubs := []func(){
		eventbus.On(b, func(_ context.Context, e events.GraphQLFinish) {
			kv := []any{
				"request_id", e.RequestID,
				"execution_id", e.ExecutionID,
				"transport", e.Transport,
				"type", e.OperationType,
				"duration", e.Duration,
			}
			if e.OperationName != "" {
				kv = append(kv, "operation", e.OperationName)
			}
			if len(e.Errors) > 0 {
				logger.Warn("graphql operation failed", append(kv, "errors", len(e.Errors), "first", e.Errors[0])...)
				return
			}
			logger.Info("graphql operation", kv...)
		}),
		eventbus.On(b, func(_ context.Context, e events.InputBuildFailed) {
			logger.Warn("request rejected", "request_id", e.RequestID, "transport", e.Transport, "reason", e.Reason, "configurer", e.ConfigurerIndex, "err", e.Err)
		}),
		eventbus.On(b, func(_ context.Context, e events.WSConnect) {
			logger.Debug("websocket connected", "conn", e.ConnID, "subprotocol", e.Subprotocol)
		}),
		eventbus.On(b, func(_ context.Context, e events.WSDisconnect) {
			logger.Debug("websocket disconnected", "conn", e.ConnID, "code", e.Code, "duration", e.Duration)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
