package websocket

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/protocol"
)

// ErrChannelClosed is returned when using a channel that was unadvertised.
var ErrChannelClosed = errors.New("websocket: channel unadvertised")

// ChannelOptions describes a channel to advertise. The hub never looks inside
// payloads; Encoding and the schema fields are passed to clients as is.
type ChannelOptions struct {
	Topic      string
	Encoding   string
	SchemaName string
	// Schema is the schema text. Binary schemas go through protocol.BinarySchema.
	Schema         string
	SchemaEncoding string
	// Latching channels retain their last message and replay it to every new
	// subscriber.
	Latching bool
}

func (o ChannelOptions) validate() error {
	if o.Topic == "" {
		return errors.New("websocket: channel topic is required")
	}
	if o.Encoding == "" {
		return errors.New("websocket: channel encoding is required")
	}
	return nil
}

// DeliveryError reports a message that could not be queued for one client.
type DeliveryError struct {
	ClientID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to client %s: %v", e.ClientID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Channel is the publisher handle of one advertised channel.
//
// Every Channel must be released with Unadvertise or Close. A handle that is
// garbage collected without it is unadvertised from a finalizer, which is a
// safety net only: the time at which it runs is not defined.
type Channel struct {
	info     protocol.Channel
	latching bool
	entry    *channelEntry
	broker   *Broker

	once         sync.Once
	unadvertised atomic.Bool
}

func newChannel(b *Broker, entry *channelEntry) *Channel {
	c := &Channel{
		info:     entry.info,
		latching: entry.latching,
		entry:    entry,
		broker:   b,
	}
	runtime.SetFinalizer(c, finalizeChannel)
	return c
}

func finalizeChannel(c *Channel) {
	log.Warn("channel released without Unadvertise",
		zap.Uint64("channel_id", uint64(c.info.ID)), zap.String("topic", c.info.Topic))
	go func() {
		if err := c.Unadvertise(); err != nil && !errors.Is(err, ErrChannelClosed) {
			log.Error("failed to unadvertise released channel",
				zap.Uint64("channel_id", uint64(c.info.ID)), zap.Error(err))
		}
	}()
}

func (c *Channel) ID() protocol.ChannelID { return c.info.ID }
func (c *Channel) Topic() string          { return c.info.Topic }
func (c *Channel) Latching() bool         { return c.latching }

// Info returns the advertised metadata of the channel.
func (c *Channel) Info() protocol.Channel { return c.info }

// Send queues the message on every current subscriber without blocking.
//
// Subscribers whose queue is full are skipped; each of them is reported as a
// *DeliveryError in the returned error (see multierr.Errors). Delivery to the
// other subscribers is unaffected. On a latching channel the message always
// replaces the retained one, whatever happened to the deliveries.
func (c *Channel) Send(timestampNs uint64, payload []byte) error {
	if c.unadvertised.Load() {
		return ErrChannelClosed
	}

	e := c.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrChannelClosed
	}

	var errs error
	for _, sub := range c.broker.clients.subscribersOf(c.info.ID) {
		data := protocol.EncodeMessageData(sub.subscriptionID, timestampNs, payload)
		if err := sub.session.EnqueueData(data); err != nil {
			messagesDropped.Inc()
			errs = multierr.Append(errs, &DeliveryError{ClientID: sub.session.ID, Err: err})
			continue
		}
		messagesSent.Inc()
		log.Debug("queued message",
			zap.String("topic", c.info.Topic),
			zap.String("client_id", sub.session.ID),
			zap.Int("queued", len(sub.session.send)))
	}

	if c.latching {
		e.latched = &latchedMessage{
			timestamp: timestampNs,
			payload:   append([]byte(nil), payload...),
		}
	}
	return errs
}

// Unadvertise tells clients the channel is gone and removes it from the hub.
// It runs once; later calls return ErrChannelClosed, as does Send.
func (c *Channel) Unadvertise() error {
	err := ErrChannelClosed
	c.once.Do(func() {
		c.unadvertised.Store(true)
		runtime.SetFinalizer(c, nil)
		err = c.broker.unadvertise(c.entry)
	})
	return err
}

// Close is Unadvertise for use with defer and io.Closer; closing twice is not
// an error.
func (c *Channel) Close() error {
	if err := c.Unadvertise(); err != nil && !errors.Is(err, ErrChannelClosed) {
		return err
	}
	return nil
}
