package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wailbentafat/foxglove-hub/websocket"
)

// Route forwards one message bus channel into one hub channel.
type Route struct {
	Source     string
	Topic      string
	Encoding   string
	SchemaName string
	Schema     string
	Latching   bool
}

// ChannelCreator is the part of the hub a Bridge publishes through.
type ChannelCreator interface {
	CreateChannel(opts websocket.ChannelOptions) (*websocket.Channel, error)
}

// Bridge advertises a hub channel per route and republishes every message
// received on the route's source channel.
type Bridge struct {
	hub    ChannelCreator
	broker MessageBroker
	routes []Route
	logger *zap.Logger
	now    func() time.Time
}

func NewBridge(hub ChannelCreator, broker MessageBroker, routes []Route, logger *zap.Logger) *Bridge {
	return &Bridge{
		hub:    hub,
		broker: broker,
		routes: routes,
		logger: logger.Named("bridge"),
		now:    time.Now,
	}
}

// Run forwards messages until ctx is done. Each route's channel is
// unadvertised when its source stops. A route that fails is logged and does
// not stop the other routes or the hub.
func (b *Bridge) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, route := range b.routes {
		g.Go(func() error {
			err := b.forward(ctx, route)
			if err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("route stopped", zap.String("source", route.Source), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Bridge) forward(ctx context.Context, route Route) error {
	messages, err := b.broker.Subscribe(ctx, route.Source)
	if err != nil {
		return fmt.Errorf("route %s: %w", route.Source, err)
	}

	ch, err := b.hub.CreateChannel(websocket.ChannelOptions{
		Topic:      route.Topic,
		Encoding:   route.Encoding,
		SchemaName: route.SchemaName,
		Schema:     route.Schema,
		Latching:   route.Latching,
	})
	if err != nil {
		return fmt.Errorf("route %s: %w", route.Source, err)
	}
	defer ch.Close()

	logger := b.logger.With(zap.String("source", route.Source), zap.String("topic", route.Topic))
	logger.Info("forwarding channel", zap.Uint64("channel_id", uint64(ch.ID())))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				logger.Info("source closed")
				return nil
			}
			ts := msg.Timestamp
			if ts == 0 {
				ts = uint64(b.now().UnixNano())
			}
			if err := ch.Send(ts, msg.Data); err != nil {
				logger.Debug("message not delivered to every subscriber", zap.Error(err))
			}
		}
	}
}
