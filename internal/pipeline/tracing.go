package pipeline

import "go.opentelemetry.io/otel"

// tracer is the package tracer for pipeline phases.
var tracer = otel.Tracer("github.com/fyrsmithlabs/enrichd/internal/pipeline")
