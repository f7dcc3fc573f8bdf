package queue

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
)

// NewLifecycleClient creates the queue client and binds Init and Close to the fx lifecycle.
func NewLifecycleClient(lc fx.Lifecycle, conn database.DBConnection, cfg *config.Config) *Client {
	c := NewClient(conn, cfg)
	lc.Append(fx.Hook{
		OnStart: c.Init,
		OnStop:  func(ctx context.Context) error { return c.Close() },
	})
	return c
}

// Module provides the queue client.
var Module = fx.Provide(NewLifecycleClient)
