package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ValentinKolb/ugKV/lib/conn"
	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/lib/queue"
	"github.com/ValentinKolb/ugKV/lib/table"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Server Metrics
// --------------------------------------------------------------------------

// serverMetrics holds the Prometheus metrics of one server.
// Every server owns its own set so several servers can live in one process.
type serverMetrics struct {
	set *metrics.Set

	connOpened     *metrics.Counter
	connClosed     *metrics.Counter
	connRejected   *metrics.Counter
	protocolErrors *metrics.Counter
	bytesReceived  *metrics.Counter
	bytesSent      *metrics.Counter
	framesDecoded  *metrics.Counter
	writeErrors    *metrics.Counter

	execDuration *metrics.Histogram
}

func newServerMetrics() *serverMetrics {
	set := metrics.NewSet()
	return &serverMetrics{
		set:            set,
		connOpened:     set.NewCounter("ugkv_connections_opened_total"),
		connClosed:     set.NewCounter("ugkv_connections_closed_total"),
		connRejected:   set.NewCounter("ugkv_connections_rejected_total"),
		protocolErrors: set.NewCounter("ugkv_protocol_errors_total"),
		bytesReceived:  set.NewCounter("ugkv_bytes_received_total"),
		bytesSent:      set.NewCounter("ugkv_bytes_sent_total"),
		framesDecoded:  set.NewCounter("ugkv_frames_decoded_total"),
		writeErrors:    set.NewCounter("ugkv_write_errors_total"),
		execDuration:   set.NewHistogram("ugkv_command_duration_seconds"),
	}
}

// registerGauges exposes the state of the server components
func (m *serverMetrics) registerGauges(t *table.Table, q *queue.Queue, r *conn.Registry) {
	m.set.NewGauge("ugkv_table_entries", func() float64 { return float64(t.Len()) })
	m.set.NewGauge("ugkv_table_capacity", func() float64 { return float64(t.Capacity()) })
	m.set.NewGauge("ugkv_table_resizes", func() float64 { return float64(t.Resizes()) })
	m.set.NewGauge("ugkv_queue_depth", func() float64 { return float64(q.Len()) })
	m.set.NewGauge("ugkv_connections_open", func() float64 { return float64(r.Len()) })
}

func (m *serverMetrics) commands(kind proto.Kind) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ugkv_commands_total{kind=%q}`, kind.String()))
}

func (m *serverMetrics) responses(status proto.Status) *metrics.Counter {
	return m.set.GetOrCreateCounter(fmt.Sprintf(`ugkv_responses_total{status=%q}`, status.String()))
}

// handler serves the metrics in the Prometheus text format
func (m *serverMetrics) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
}

// --------------------------------------------------------------------------
// Metered Components
// --------------------------------------------------------------------------

// meteredSink counts the commands accepted by the queue
type meteredSink struct {
	queue   *queue.Queue
	metrics *serverMetrics
}

func (s meteredSink) Enqueue(cmd *queue.Command) error {
	if err := s.queue.Enqueue(cmd); err != nil {
		return err
	}
	s.metrics.commands(cmd.Kind).Inc()
	return nil
}

// meteredWriter counts the responses written back to the clients by status
type meteredWriter struct {
	writer  queue.Writer
	metrics *serverMetrics
}

func (w meteredWriter) WriteOut(connID uint64, data []byte) error {
	if len(data) >= proto.ResponseHeaderSize {
		w.metrics.responses(proto.Status(data[proto.HeaderSize])).Inc()
	}
	if err := w.writer.WriteOut(connID, data); err != nil {
		w.metrics.writeErrors.Inc()
		return err
	}
	w.metrics.bytesSent.Add(len(data))
	return nil
}

// timed wraps an executor and records how long every command takes
func (m *serverMetrics) timed(exec queue.ExecuteFunc) queue.ExecuteFunc {
	return func(cmd *queue.Command) {
		start := time.Now()
		exec(cmd)
		m.execDuration.Update(time.Since(start).Seconds())
	}
}
