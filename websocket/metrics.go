package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "foxglove_hub"

var (
	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "clients_connected",
		Help:      "Number of currently connected WebSocket clients.",
	})
	channelsAdvertised = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "channels_advertised",
		Help:      "Number of currently advertised channels.",
	})
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_sent_total",
		Help:      "Data frames queued for delivery to subscribers.",
	})
	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_dropped_total",
		Help:      "Data frames rejected because a subscriber queue was full or closed.",
	})
	protocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "protocol_errors_total",
		Help:      "Client frames that could not be handled.",
	})
	slowClientDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "slow_client_disconnects_total",
		Help:      "Clients disconnected because their outbound queue stayed full.",
	})
)
