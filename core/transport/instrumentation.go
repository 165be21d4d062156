package transport

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-stage/core/transport"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	sentCounter, _   = meter.Int64Counter("transport.messages.sent")
	queuedCounter, _ = meter.Int64Counter("transport.messages.queued")
)
