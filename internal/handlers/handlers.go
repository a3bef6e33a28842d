// Package handlers wires the subsystem packages (repository, output,
// depgraph, queue, resource, worker) to the event bus. Each handler owns
// exactly the subset of spec'd bus traffic it reacts to; together they form
// the handler mesh the orchestrator assembles at boot.
package handlers

import (
	"context"

	"github.com/dean0x/claudine-sub000/internal/bus"
)

// requestEnvelope unwraps a bus.RequestEnvelope. ok is false when payload
// is not an envelope (a Request-only handler reached by Emit traffic); it
// never panics, and each caller decides how to report that case.
func requestEnvelope(payload any) (bus.RequestEnvelope, bool) {
	env, ok := payload.(bus.RequestEnvelope)
	return env, ok
}

func background() context.Context {
	return context.Background()
}
