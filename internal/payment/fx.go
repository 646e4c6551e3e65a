package payment

import (
	"github.com/shirikacare/portal/internal/mpesa"
	"github.com/shirikacare/portal/internal/payment/domain"
	"github.com/shirikacare/portal/internal/payment/repository"
	paymentservice "github.com/shirikacare/portal/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *mpesa.Client) domain.GatewayClient { return c }),
	fx.Provide(paymentservice.NewService),
)
