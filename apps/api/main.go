package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/leaseworks/leaseworks/internal/clock"
	"github.com/leaseworks/leaseworks/internal/config"
	"github.com/leaseworks/leaseworks/internal/observability"
	"github.com/leaseworks/leaseworks/internal/server"
	"github.com/leaseworks/leaseworks/pkg/db"
	"go.uber.org/fx"
)

// API-only deployment. Run the scheduler app alongside it, and set
// SCHEDULER_ENABLED=false here.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
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
