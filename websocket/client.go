package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/protocol"
)

const (
	activityCheckInterval = 10 * time.Second
	maxInboundMessageSize = 1 << 20
)

var (
	// ErrQueueFull is returned when a client's outbound queue has no room.
	ErrQueueFull = errors.New("websocket: client queue full")

	// ErrClientClosed is returned when enqueueing to a closed session.
	ErrClientClosed = errors.New("websocket: client closed")
)

// frame is one serialized message waiting in a client's outbound queue.
type frame struct {
	messageType int
	data        []byte
}

func textFrame(data []byte) frame   { return frame{messageType: websocket.TextMessage, data: data} }
func binaryFrame(data []byte) frame { return frame{messageType: websocket.BinaryMessage, data: data} }

// ClientSession is one connected client: its transport, its bounded outbound
// queue and its subscriptions.
type ClientSession struct {
	ID   string
	conn *websocket.Conn

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once

	// connected is closed once Observer.ClientConnected has returned.
	connected chan struct{}

	lastActivity int64 // UnixNano timestamp
	dropped      atomic.Int64
	maxDropped   int64

	pingInterval    time.Duration
	activityTimeout time.Duration
	writeTimeout    time.Duration

	// subscriptions maps channel id → client-chosen subscription id.
	// Guarded by the owning ClientManager's lock.
	subscriptions map[protocol.ChannelID]protocol.SubscriptionID
}

// NewClientSession wraps conn. conn may be nil for sessions that are driven
// directly through their queue.
func NewClientSession(id string, conn *websocket.Conn, opts Options) *ClientSession {
	return &ClientSession{
		ID:              id,
		conn:            conn,
		send:            make(chan frame, opts.QueueSize),
		done:            make(chan struct{}),
		connected:       make(chan struct{}),
		lastActivity:    time.Now().UnixNano(),
		maxDropped:      int64(opts.MaxDroppedFrames),
		pingInterval:    opts.PingInterval,
		activityTimeout: opts.ActivityTimeout,
		writeTimeout:    opts.WriteTimeout,
		subscriptions:   make(map[protocol.ChannelID]protocol.SubscriptionID),
	}
}

// Done is closed once the session has been closed.
func (s *ClientSession) Done() <-chan struct{} {
	return s.done
}

// enqueue never blocks: it fails with ErrQueueFull when the queue is at capacity.
func (s *ClientSession) enqueue(f frame) error {
	select {
	case <-s.done:
		return ErrClientClosed
	default:
	}

	select {
	case s.send <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueData queues a binary data frame. A client that rejects too many data
// frames in a row is disconnected.
func (s *ClientSession) EnqueueData(data []byte) error {
	err := s.enqueue(binaryFrame(data))
	if err == nil {
		s.dropped.Store(0)
		return nil
	}
	if errors.Is(err, ErrQueueFull) {
		n := s.dropped.Add(1)
		if s.maxDropped > 0 && n == s.maxDropped {
			log.Warn("disconnecting slow client", zap.String("client_id", s.ID), zap.Int64("dropped", n))
			slowClientDisconnects.Inc()
			go s.Close(websocket.CloseTryAgainLater, "client too slow")
		}
	}
	return err
}

// EnqueueText queues a control message. Control messages must not be lost,
// so a full queue disconnects the client.
func (s *ClientSession) EnqueueText(data []byte) error {
	err := s.enqueue(textFrame(data))
	if errors.Is(err, ErrQueueFull) {
		log.Warn("disconnecting client, control message did not fit its queue", zap.String("client_id", s.ID))
		slowClientDisconnects.Inc()
		go s.Close(websocket.CloseTryAgainLater, "client too slow")
	}
	return err
}

// writeFrames writes frames directly to the connection, bypassing the queue.
func (s *ClientSession) writeFrames(frames []frame) error {
	for _, f := range frames {
		if err := s.write(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClientSession) write(f frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(f.messageType, f.data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// writePump drains the outbound queue in FIFO order until the session closes
// or a write fails.
func (s *ClientSession) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case f := <-s.send:
			if err := s.write(f); err != nil {
				return err
			}
		}
	}
}

func (s *ClientSession) UpdateActivity() {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())
}

func (s *ClientSession) LastActivityTime() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivity))
}

// StartPingSender sends a ping frame every ping interval until ctx is done.
func (s *ClientSession) StartPingSender(ctx context.Context) {
	if s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				log.Debug("ping failed", zap.String("client_id", s.ID), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// StartActivityChecker calls onTimeout once nothing has been received from the
// client for longer than the activity timeout.
func (s *ClientSession) StartActivityChecker(ctx context.Context, onTimeout func()) {
	if s.activityTimeout <= 0 {
		return
	}
	interval := activityCheckInterval
	if s.activityTimeout < interval {
		interval = s.activityTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if time.Since(s.LastActivityTime()) > s.activityTimeout {
				onTimeout()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close sends a close frame and shuts the connection. Only the first call has
// any effect.
func (s *ClientSession) Close(code int, text string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn == nil {
			return
		}
		if werr := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(s.writeTimeout),
		); werr != nil {
			log.Debug("error sending close message", zap.String("client_id", s.ID), zap.Error(werr))
		}
		err = s.conn.Close()
	})
	return err
}
