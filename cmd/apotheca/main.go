package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/apotheca/internal/clock"
	"github.com/smallbiznis/apotheca/internal/config"
	"github.com/smallbiznis/apotheca/internal/logger"
	"github.com/smallbiznis/apotheca/internal/migration"
	"github.com/smallbiznis/apotheca/internal/scheduler"
	"github.com/smallbiznis/apotheca/internal/seed"
	"github.com/smallbiznis/apotheca/internal/server"
	"github.com/smallbiznis/apotheca/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		seed.Module,

		server.Module,
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
