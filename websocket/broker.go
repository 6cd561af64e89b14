package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/protocol"
)

// ErrUnsupportedBinary is returned for binary frames sent by a client; the
// hub does not accept client-published data.
var ErrUnsupportedBinary = errors.New("websocket: binary client messages are not supported")

// Defaults used by DefaultOptions.
const (
	DefaultQueueSize        = 10
	DefaultMaxDroppedFrames = 100
	DefaultPingInterval     = 30 * time.Second
	DefaultActivityTimeout  = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// Observer is told about client connects and disconnects. Calls are made from
// their own goroutine and may block.
type Observer interface {
	ClientConnected(ctx context.Context, clientID string)
	ClientDisconnected(ctx context.Context, clientID string)
}

// Options configures a Broker.
type Options struct {
	// Name is reported to clients in serverInfo.
	Name string
	// QueueSize is the outbound queue capacity of every client.
	QueueSize int
	// MaxDroppedFrames disconnects a client after that many consecutive data
	// frames did not fit its queue. Zero keeps slow clients connected.
	MaxDroppedFrames int
	PingInterval     time.Duration
	ActivityTimeout  time.Duration
	WriteTimeout     time.Duration
	Observer         Observer
}

func DefaultOptions() Options {
	return Options{
		Name:             "foxglove-hub",
		QueueSize:        DefaultQueueSize,
		MaxDroppedFrames: DefaultMaxDroppedFrames,
		PingInterval:     DefaultPingInterval,
		ActivityTimeout:  DefaultActivityTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// Broker ties the channel registry, the client registry and the parameter
// store together. It serves clients as an http.Handler and hands out Channel
// handles to publishers.
type Broker struct {
	opts     Options
	channels *ChannelRegistry
	clients  *ClientManager
	params   *ParameterStore
	handler  *Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBroker creates a Broker. An empty Name, QueueSize or WriteTimeout falls
// back to its default; a zero PingInterval or ActivityTimeout disables it.
func NewBroker(opts Options) *Broker {
	def := DefaultOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		opts:     opts,
		channels: NewChannelRegistry(),
		clients:  NewClientManager(),
		params:   NewParameterStore(),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.handler = NewHandler(b)
	return b
}

func (b *Broker) Parameters() *ParameterStore { return b.params }
func (b *Broker) Channels() *ChannelRegistry  { return b.channels }
func (b *Broker) Clients() *ClientManager     { return b.clients }

// ServeHTTP upgrades the request to a WebSocket client connection.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.handler.HandleWebSocket(w, r)
}

// Close disconnects every client. Channels stay advertised; publishers still
// own their handles.
func (b *Broker) Close() {
	b.cancel()
	b.clients.CloseAllConnections("server shutting down")
}

// CreateChannel advertises a new channel to every connected client and
// returns its publisher handle.
func (b *Broker) CreateChannel(opts ChannelOptions) (*Channel, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	entry := &channelEntry{
		info: protocol.Channel{
			ID:             b.channels.Allocate(),
			Topic:          opts.Topic,
			Encoding:       opts.Encoding,
			SchemaName:     opts.SchemaName,
			Schema:         opts.Schema,
			SchemaEncoding: opts.SchemaEncoding,
		},
		latching: opts.Latching,
	}

	data, err := protocol.EncodeServerMessage(protocol.Advertise{Channels: []protocol.Channel{entry.info}})
	if err != nil {
		return nil, err
	}

	b.channels.register(entry, func() {
		if err := b.broadcastText(data); err != nil {
			log.Warn("advertise not delivered to every client", zap.String("topic", entry.info.Topic), zap.Error(err))
		}
	})
	channelsAdvertised.Inc()

	log.Debug("advertised channel",
		zap.Uint64("channel_id", uint64(entry.info.ID)),
		zap.String("topic", entry.info.Topic),
		zap.Bool("latching", entry.latching))

	return newChannel(b, entry), nil
}

// WithChannel creates a channel, runs fn with it and unadvertises it when fn
// returns.
func (b *Broker) WithChannel(opts ChannelOptions, fn func(*Channel) error) (err error) {
	ch, err := b.CreateChannel(opts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, ch.Close())
	}()
	return fn(ch)
}

// unadvertise removes the channel and tells every client about it.
func (b *Broker) unadvertise(entry *channelEntry) error {
	entry.mu.Lock()
	if entry.removed {
		entry.mu.Unlock()
		return ErrChannelClosed
	}
	entry.removed = true
	entry.latched = nil
	entry.mu.Unlock()

	id := entry.info.ID
	data, err := protocol.EncodeServerMessage(protocol.Unadvertise{ChannelIDs: []protocol.ChannelID{id}})
	if err != nil {
		return err
	}

	if b.channels.unregister(id, func() {
		b.clients.dropChannel(id)
		if err := b.broadcastText(data); err != nil {
			log.Warn("unadvertise not delivered to every client", zap.Uint64("channel_id", uint64(id)), zap.Error(err))
		}
	}) {
		channelsAdvertised.Dec()
	}

	log.Debug("unadvertised channel", zap.Uint64("channel_id", uint64(id)), zap.String("topic", entry.info.Topic))
	return nil
}

// broadcastText queues a control message on every connected client.
func (b *Broker) broadcastText(data []byte) error {
	var errs error
	for _, s := range b.clients.Sessions() {
		if err := s.EnqueueText(data); err != nil {
			errs = multierr.Append(errs, &DeliveryError{ClientID: s.ID, Err: err})
		}
	}
	return errs
}

// attach registers a new session and returns its greeting: serverInfo, the
// channel snapshot and the parameter snapshot. The snapshot and the
// registration happen under the channel registry read lock, so every channel
// change is either in the greeting or queued after it.
func (b *Broker) attach(s *ClientSession) ([]frame, error) {
	info, err := protocol.EncodeServerMessage(protocol.ServerInfo{
		Name:         b.opts.Name,
		Capabilities: []string{protocol.CapabilityParameters},
		SessionID:    s.ID,
	})
	if err != nil {
		return nil, err
	}
	params, err := protocol.EncodeServerMessage(protocol.ParameterValues{Parameters: b.params.Snapshot()})
	if err != nil {
		return nil, err
	}

	var advertise []byte
	b.channels.withSnapshot(func(channels []protocol.Channel) {
		advertise, err = protocol.EncodeServerMessage(protocol.Advertise{Channels: channels})
		if err != nil {
			return
		}
		b.clients.AddClient(s)
	})
	if err != nil {
		return nil, err
	}

	clientsConnected.Inc()
	if b.opts.Observer != nil {
		go func() {
			defer close(s.connected)
			b.opts.Observer.ClientConnected(b.ctx, s.ID)
		}()
	}
	return []frame{textFrame(info), textFrame(advertise), textFrame(params)}, nil
}

// detach deregisters the session and closes it. The disconnect event is
// reported only after the connect event for the same session.
func (b *Broker) detach(s *ClientSession) {
	if b.clients.RemoveClient(s.ID) {
		clientsConnected.Dec()
		if b.opts.Observer != nil {
			ctx := context.WithoutCancel(b.ctx)
			go func() {
				<-s.connected
				b.opts.Observer.ClientDisconnected(ctx, s.ID)
			}()
		}
	}
	s.Close(websocket.CloseNormalClosure, "")
}

// dispatch handles one inbound frame from s.
func (b *Broker) dispatch(s *ClientSession, messageType int, data []byte) error {
	switch messageType {
	case websocket.TextMessage:
	case websocket.BinaryMessage:
		return ErrUnsupportedBinary
	default:
		return fmt.Errorf("websocket: unexpected frame type %d", messageType)
	}

	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.Subscribe:
		b.subscribe(s, m.Subscriptions)
	case protocol.Unsubscribe:
		n := b.clients.Unsubscribe(s.ID, m.SubscriptionIDs)
		log.Debug("client unsubscribed", zap.String("client_id", s.ID), zap.Int("removed", n))
	case protocol.GetParameters:
		return b.replyParameters(s, m.ID, b.params.Lookup(m.ParameterNames))
	case protocol.SetParameters:
		b.params.SetAll(m.Parameters)
		log.Debug("client set parameters", zap.String("client_id", s.ID), zap.Int("count", len(m.Parameters)))
		if m.ID != "" {
			names := make([]string, 0, len(m.Parameters))
			for name := range m.Parameters {
				names = append(names, name)
			}
			sort.Strings(names)
			return b.replyParameters(s, m.ID, b.params.Lookup(names))
		}
	}
	return nil
}

// subscribe records each subscription and replays the latched message of the
// channel, if any, before any later publish can reach the client. Unknown
// channels are skipped.
func (b *Broker) subscribe(s *ClientSession, subs []protocol.Subscription) {
	for _, sub := range subs {
		entry, ok := b.channels.lookup(sub.ChannelID)
		if !ok {
			log.Debug("ignoring subscription to unknown channel",
				zap.String("client_id", s.ID), zap.Uint64("channel_id", uint64(sub.ChannelID)))
			continue
		}

		entry.mu.Lock()
		if entry.removed {
			entry.mu.Unlock()
			continue
		}
		if !b.clients.Subscribe(s.ID, sub.ChannelID, sub.ID) {
			entry.mu.Unlock()
			return
		}
		log.Debug("client subscribed",
			zap.String("client_id", s.ID),
			zap.Uint64("channel_id", uint64(sub.ChannelID)),
			zap.Uint32("subscription_id", uint32(sub.ID)))

		if l := entry.latched; l != nil {
			data := protocol.EncodeMessageData(sub.ID, l.timestamp, l.payload)
			if err := s.EnqueueData(data); err != nil {
				messagesDropped.Inc()
				log.Warn("failed to replay latched message",
					zap.String("client_id", s.ID), zap.String("topic", entry.info.Topic), zap.Error(err))
			} else {
				messagesSent.Inc()
			}
		}
		entry.mu.Unlock()
	}
}

func (b *Broker) replyParameters(s *ClientSession, id string, params []protocol.Parameter) error {
	data, err := protocol.EncodeServerMessage(protocol.ParameterValues{Parameters: params, ID: id})
	if err != nil {
		return err
	}
	return s.EnqueueText(data)
}
