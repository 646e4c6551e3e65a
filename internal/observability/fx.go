package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/shirikacare/portal/internal/observability/logger"
)

// Module wires the logger, the prometheus registry and the derived
// observability config. The tracing and metrics providers register
// against the otel globals and are invoked from main, since their
// packages import this one for Config.
var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(NewLogger),
	fx.Provide(NewRegistry),
)

// NewLogger builds the process-wide zap logger from the
// observability config.
func NewLogger(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	return logger.New(lc, logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: true,
	})
}

// NewRegistry builds the prometheus registry scraped at /metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
