package providers

import (
	"github.com/shirikacare/portal/internal/providers/email"
	"github.com/shirikacare/portal/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
