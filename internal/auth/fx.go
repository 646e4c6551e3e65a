package auth

import (
	"github.com/shirikacare/portal/internal/auth/repository"
	"github.com/shirikacare/portal/internal/auth/service"
	"github.com/shirikacare/portal/internal/auth/session"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(session.NewManager),
)
