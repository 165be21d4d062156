package markers

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-stage/core/markers"

var logger = otelslog.NewLogger(scopeName)
