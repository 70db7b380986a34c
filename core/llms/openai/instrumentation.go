package openai

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/junavoice/juna-core/core/llms/openai"

var tracer = otel.Tracer(scopeName)
