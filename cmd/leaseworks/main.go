package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/leaseworks/leaseworks/internal/clock"
	"github.com/leaseworks/leaseworks/internal/config"
	"github.com/leaseworks/leaseworks/internal/migration"
	"github.com/leaseworks/leaseworks/internal/observability"
	"github.com/leaseworks/leaseworks/internal/scheduler"
	"github.com/leaseworks/leaseworks/internal/server"
	"github.com/leaseworks/leaseworks/pkg/db"
	"go.uber.org/fx"
)

// The monolith: HTTP API, migrations and the scheduler in one process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,

		scheduler.Module,
		migration.Module,
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
