package recurring

import (
	"github.com/leaseworks/leaseworks/internal/recurring/service"
	"go.uber.org/fx"
)

// Module wires the recurring invoice schedule feature.
var Module = fx.Module("recurring",
	fx.Provide(service.NewService),
)
