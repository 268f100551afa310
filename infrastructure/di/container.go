package di

import (
	"context"
	"net/http"

	"esence/application/commands/bus"
	"esence/application/node"
	querybus "esence/application/queries/bus"
	"esence/infrastructure/config"
	"esence/infrastructure/identity"
	"esence/infrastructure/messaging"
	"esence/infrastructure/persistence/filestore"
	"esence/interfaces/websocket"
	"esence/pkg/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Broker     *messaging.Broker
	Store      *filestore.Store
	Identity   *identity.Manager
	Node       *node.Node
	CommandBus *bus.CommandBus
	QueryBus   *querybus.QueryBus
	Push       *websocket.Server
	Router     http.Handler
}

// Run drives the node and the push channel until ctx ends. The node must
// have been booted.
func (c *Container) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Node.Run(gctx) })
	g.Go(func() error { return c.Push.Run(gctx) })
	err := g.Wait()
	c.Broker.Close()
	return err
}
