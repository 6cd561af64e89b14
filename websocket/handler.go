package websocket

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wailbentafat/foxglove-hub/protocol"
)

var errActivityTimeout = errors.New("websocket: client inactive")

var upgrader = websocket.Upgrader{
	Subprotocols: []string{protocol.Subprotocol},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// Handler serves one WebSocket connection per request on behalf of a Broker.
type Handler struct {
	broker  *Broker
	manager *ClientManager
}

func NewHandler(b *Broker) *Handler {
	return &Handler{
		broker:  b,
		manager: b.clients,
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	h.manager.IncreaseWaitGroup()
	defer h.manager.DecreaseWaitGroup()

	clientID := uuid.NewString()
	session := NewClientSession(clientID, conn, h.broker.opts)
	logger := log.With(zap.String("client_id", clientID))
	logger.Info("client connected",
		zap.String("remote", r.RemoteAddr),
		zap.String("subprotocol", conn.Subprotocol()))

	greeting, err := h.broker.attach(session)
	if err != nil {
		logger.Error("failed to build greeting", zap.Error(err))
		session.Close(websocket.CloseInternalServerErr, "internal error")
		return
	}
	defer h.broker.detach(session)

	if err := session.writeFrames(greeting); err != nil {
		logger.Info("failed to send greeting", zap.Error(err))
		return
	}

	conn.SetReadLimit(maxInboundMessageSize)
	conn.SetPongHandler(func(string) error {
		session.UpdateActivity()
		return nil
	})

	g, gctx := errgroup.WithContext(h.broker.ctx)
	g.Go(func() error {
		return session.writePump(gctx)
	})
	g.Go(func() error {
		return h.readLoop(session)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-session.Done():
		}
		session.Close(websocket.CloseGoingAway, "")
		return nil
	})
	g.Go(func() error {
		session.StartPingSender(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		session.StartActivityChecker(gctx, func() {
			logger.Info("client timed out")
			err = errActivityTimeout
		})
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Info("client disconnected", zap.Error(err))
		return
	}
	logger.Info("client disconnected")
}

// readLoop handles inbound frames until the connection fails. Malformed
// messages are logged and skipped.
func (h *Handler) readLoop(session *ClientSession) error {
	for {
		messageType, data, err := session.conn.ReadMessage()
		if err != nil {
			return err
		}
		session.UpdateActivity()

		if err := h.broker.dispatch(session, messageType, data); err != nil {
			protocolErrors.Inc()
			log.Warn("rejected client message", zap.String("client_id", session.ID), zap.Error(err))
		}
	}
}
