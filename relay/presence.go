package relay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPresenceChannel is the Redis channel presence events go to.
const DefaultPresenceChannel = "presence-events"

const presenceTimeout = 10 * time.Second

// OnlineSet records which clients are connected.
type OnlineSet interface {
	AddOnlineClient(ctx context.Context, clientID string) error
	RemoveOnlineClient(ctx context.Context, clientID string) error
}

// PresencePublisher publishes client connects and disconnects on the message
// bus. It is meant to be installed as the hub's connection observer.
type PresencePublisher struct {
	broker  MessageBroker
	online  OnlineSet
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

// NewPresencePublisher returns a publisher for channel. online may be nil.
func NewPresencePublisher(broker MessageBroker, online OnlineSet, channel string, logger *zap.Logger) *PresencePublisher {
	if channel == "" {
		channel = DefaultPresenceChannel
	}
	return &PresencePublisher{
		broker:  broker,
		online:  online,
		channel: channel,
		logger:  logger.Named("presence"),
		now:     time.Now,
	}
}

func (p *PresencePublisher) ClientConnected(ctx context.Context, clientID string) {
	if p.online != nil {
		if err := p.online.AddOnlineClient(ctx, clientID); err != nil {
			p.logger.Warn("failed to record online client", zap.String("client_id", clientID), zap.Error(err))
		}
	}
	p.publish(ctx, EventClientConnected, clientID)
}

func (p *PresencePublisher) ClientDisconnected(ctx context.Context, clientID string) {
	if p.online != nil {
		if err := p.online.RemoveOnlineClient(ctx, clientID); err != nil {
			p.logger.Warn("failed to remove online client", zap.String("client_id", clientID), zap.Error(err))
		}
	}
	p.publish(ctx, EventClientDisconnected, clientID)
}

func (p *PresencePublisher) publish(ctx context.Context, eventType, clientID string) {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()

	msg := Message{
		Type:      eventType,
		ClientID:  clientID,
		Timestamp: uint64(p.now().UnixNano()),
	}
	if err := p.broker.Publish(ctx, p.channel, msg); err != nil {
		p.logger.Warn("failed to publish presence event",
			zap.String("type", eventType), zap.String("client_id", clientID), zap.Error(err))
		return
	}
	p.logger.Debug("published presence event", zap.String("type", eventType), zap.String("client_id", clientID))
}
