// Command gqlinput serves GraphQL over HTTP and WebSocket and inspects how a
// request becomes an execution input.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
