package websocket

import "go.uber.org/zap"

// Package-level logger for the websocket package. It discards everything
// until SetLogger is called, which must happen before the hub starts serving.
var log = zap.NewNop()

// SetLogger installs l as the websocket package logger.
func SetLogger(l *zap.Logger) {
	log = l.Named("websocket")
}
