package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	RequestID     string
	ExecutionID   string
	Query         string
	OperationName string
	OperationType string
	Transport     string
}

// GraphQLFinish is emitted after executing a GraphQL operation.
type GraphQLFinish struct {
	RequestID     string
	ExecutionID   string
	Query         string
	OperationName string
	OperationType string
	Transport     string
	Errors        []error
	Duration      time.Duration
}

// Reasons carried by InputBuildFailed.
const (
	ReasonInvalidInput = "invalid_input"
	ReasonRejected     = "rejected"
	ReasonConfigurer   = "configurer"
)

// InputBuildFailed is emitted when a request could not be turned into an
// execution input: it was invalid, an interceptor rejected it or a
// configurer failed. ConfigurerIndex is -1 unless Reason is
// ReasonConfigurer.
type InputBuildFailed struct {
	RequestID       string
	Transport       string
	Reason          string
	ConfigurerIndex int
	Err             error
}
