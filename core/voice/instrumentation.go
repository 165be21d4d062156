package voice

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-stage/core/voice"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	capturesCounter, _  = meter.Int64Counter("voice.captures.started")
	discardedCounter, _ = meter.Int64Counter("voice.captures.discarded")
	fallbackCounter, _  = meter.Int64Counter("voice.captures.fallbacks")
)
