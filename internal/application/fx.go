package application

import (
	"github.com/shirikacare/portal/internal/application/repository"
	"github.com/shirikacare/portal/internal/application/service"
	"go.uber.org/fx"
)

var Module = fx.Module("application.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
