package member

import (
	"github.com/shirikacare/portal/internal/member/repository"
	"github.com/shirikacare/portal/internal/member/service"
	"go.uber.org/fx"
)

var Module = fx.Module("member.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
