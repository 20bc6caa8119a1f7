package invoice

import (
	"github.com/leaseworks/leaseworks/internal/invoice/repository"
	"github.com/leaseworks/leaseworks/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
