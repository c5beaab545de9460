package server

import (
	"errors"

	"github.com/ValentinKolb/ugKV/lib/conn"
)

// connHandler connects the transport events to the connection registry.
// It implements transport.ConnHandler.
type connHandler struct {
	registry *conn.Registry
	metrics  *serverMetrics
}

func (h *connHandler) Accept(id uint64) error {
	if err := h.registry.Open(id); err != nil {
		h.metrics.connRejected.Inc()
		return err
	}
	h.metrics.connOpened.Inc()
	return nil
}

func (h *connHandler) Deliver(id uint64, data []byte) error {
	h.metrics.bytesReceived.Add(len(data))

	frames, err := h.registry.Deliver(id, data)
	h.metrics.framesDecoded.Add(frames)

	if errors.Is(err, conn.ErrProtocolViolation) {
		h.metrics.protocolErrors.Inc()
	}
	return err
}

func (h *connHandler) Closed(id uint64) {
	h.metrics.connClosed.Inc()

	// a connection that failed in Deliver is already gone from the registry
	if err := h.registry.Close(id); err != nil && !errors.Is(err, conn.ErrNotOpen) {
		Logger.Warningf("failed to release connection %d: %v", id, err)
	}
}
