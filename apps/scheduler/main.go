package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/leaseworks/leaseworks/internal/audit"
	"github.com/leaseworks/leaseworks/internal/clock"
	"github.com/leaseworks/leaseworks/internal/config"
	"github.com/leaseworks/leaseworks/internal/invoice"
	"github.com/leaseworks/leaseworks/internal/observability"
	"github.com/leaseworks/leaseworks/internal/recurring"
	"github.com/leaseworks/leaseworks/internal/scheduler"
	"github.com/leaseworks/leaseworks/pkg/db"
	"go.uber.org/fx"
)

// Scheduler-only deployment. No HTTP surface beyond what observability
// exposes; the jobs run against the shared database.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		audit.Module,
		invoice.Module,
		recurring.Module,
		scheduler.Module,
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
