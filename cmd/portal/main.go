package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shirikacare/portal/internal/application"
	"github.com/shirikacare/portal/internal/audit"
	"github.com/shirikacare/portal/internal/auth"
	"github.com/shirikacare/portal/internal/authorization"
	"github.com/shirikacare/portal/internal/clock"
	"github.com/shirikacare/portal/internal/config"
	"github.com/shirikacare/portal/internal/member"
	"github.com/shirikacare/portal/internal/migration"
	"github.com/shirikacare/portal/internal/mpesa"
	"github.com/shirikacare/portal/internal/observability"
	obsmetrics "github.com/shirikacare/portal/internal/observability/metrics"
	obstracing "github.com/shirikacare/portal/internal/observability/tracing"
	"github.com/shirikacare/portal/internal/payment"
	"github.com/shirikacare/portal/internal/providers"
	"github.com/shirikacare/portal/internal/ratelimit"
	"github.com/shirikacare/portal/internal/scheduler"
	"github.com/shirikacare/portal/internal/server"
	"github.com/shirikacare/portal/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(obsmetrics.New),
		db.Module,
		clock.Module,
		migration.Module,

		// Domains
		authorization.Module,
		audit.Module,
		auth.Module,
		mpesa.Module,
		payment.Module,
		application.Module,
		member.Module,
		providers.Module,
		ratelimit.Module,
		scheduler.Module,

		// HTTP surface
		server.Module,

		// Exporters are started last so a broken collector endpoint
		// surfaces after the app is otherwise wired.
		fx.Invoke(obstracing.NewProvider),
		fx.Invoke(obsmetrics.NewProvider),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
