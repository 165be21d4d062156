package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-stage/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	turnsCounter, _         = meter.Int64Counter("orchestration.turns.started")
	failedTurnsCounter, _   = meter.Int64Counter("orchestration.turns.failed")
	missingTokensCounter, _ = meter.Int64Counter("orchestration.turns.missing_action_tokens")
)
