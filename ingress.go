// Package ingress assembles the webhook ingress gateway: authentication,
// idempotent persistence, thread resolution, the balance gate and the
// forward to the workflow engine.
package ingress

import (
	"github.com/goliatone/go-ingress/core"
)

type Config = core.Config

type InboundRequest = core.InboundRequest

type AcceptResult = core.AcceptResult

type CallbackOutcome = core.CallbackOutcome

type Message = core.Message

type Thread = core.Thread

type StoreProvider = core.StoreProvider

type MetricsRecorder = core.MetricsRecorder

func DefaultConfig() Config {
	return core.DefaultConfig()
}
