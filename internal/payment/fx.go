package payment

import (
	"github.com/leaseworks/leaseworks/internal/payment/service"
	"go.uber.org/fx"
)

// Module wires the payment workflow feature.
var Module = fx.Module("payment",
	fx.Provide(service.NewService),
)
